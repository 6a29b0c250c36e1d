package capture

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
)

const (
	MinViewportDimension = 320
	MaxViewportDimension = 4096

	DefaultViewportWidth  = 1366
	DefaultViewportHeight = 768
)

// Viewport is the browser window size used for rendering.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DefaultViewport returns the 1366x768 viewport applied when the caller omits one.
func DefaultViewport() Viewport {
	return Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
}

// Request is a validated capture request. Every field is populated.
type Request struct {
	URL                string
	FullPage           bool
	Viewport           Viewport
	ImageType          ImageType
	BlockConsentModals bool
}

// RawRequest mirrors the inbound JSON body. Pointers distinguish absent fields from zero values.
type RawRequest struct {
	URL                *string      `json:"url"`
	FullPage           *bool        `json:"fullPage"`
	Viewport           *RawViewport `json:"viewport"`
	ImageType          *string      `json:"imageType"`
	BlockConsentModals *bool        `json:"blockConsentModals"`
}

// RawViewport keeps dimensions as JSON numbers so 1024.0 and 1e3 are accepted as integers.
type RawViewport struct {
	Width  *float64 `json:"width"`
	Height *float64 `json:"height"`
}

// ErrMalformedBody reports a body that is not a single JSON value. It is not a validation error.
var ErrMalformedBody = errors.New("malformed request body")

// DecodeRequest parses a JSON body and validates it.
//
// Syntax errors, trailing data included, are returned wrapped in ErrMalformedBody;
// type mismatches on known fields are reported as *ValidationError.
func DecodeRequest(body []byte) (Request, error) {
	var raw RawRequest

	if err := json.Unmarshal(body, &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Request{}, &ValidationError{
				Field:  typeErr.Field,
				Reason: fmt.Sprintf("expected %s, got %s", typeErr.Type.String(), typeErr.Value),
			}
		}
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}

	return Validate(raw)
}

// Validate applies defaults and bounds checks. It performs no I/O.
func Validate(raw RawRequest) (Request, error) {
	if raw.URL == nil {
		return Request{}, &ValidationError{Field: "url", Reason: "required"}
	}
	target, err := validateURL(*raw.URL)
	if err != nil {
		return Request{}, err
	}

	req := Request{
		URL:                target,
		FullPage:           true,
		Viewport:           DefaultViewport(),
		ImageType:          ImageTypePNG,
		BlockConsentModals: true,
	}

	if raw.FullPage != nil {
		req.FullPage = *raw.FullPage
	}

	// Viewport defaults as a unit: once the object is present both dimensions are required.
	if raw.Viewport != nil {
		viewport, err := validateViewport(*raw.Viewport)
		if err != nil {
			return Request{}, err
		}
		req.Viewport = viewport
	}

	if raw.ImageType != nil {
		imageType, err := ParseImageType(*raw.ImageType)
		if err != nil {
			return Request{}, &ValidationError{Field: "imageType", Reason: err.Error()}
		}
		req.ImageType = imageType
	}

	if raw.BlockConsentModals != nil {
		req.BlockConsentModals = *raw.BlockConsentModals
	}

	return req, nil
}

func validateURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", &ValidationError{Field: "url", Reason: "required"}
	}

	parsed, err := url.Parse(value)
	if err != nil {
		return "", &ValidationError{Field: "url", Reason: "invalid url"}
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return "", &ValidationError{Field: "url", Reason: "must be an absolute url"}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", &ValidationError{Field: "url", Reason: "scheme must be http or https"}
	}

	return value, nil
}

func validateViewport(raw RawViewport) (Viewport, error) {
	if raw.Width == nil {
		return Viewport{}, &ValidationError{Field: "viewport.width", Reason: "required when viewport is set"}
	}
	if raw.Height == nil {
		return Viewport{}, &ValidationError{Field: "viewport.height", Reason: "required when viewport is set"}
	}
	width, err := checkDimension("viewport.width", *raw.Width)
	if err != nil {
		return Viewport{}, err
	}
	height, err := checkDimension("viewport.height", *raw.Height)
	if err != nil {
		return Viewport{}, err
	}
	return Viewport{Width: width, Height: height}, nil
}

func checkDimension(field string, value float64) (int, error) {
	if math.Trunc(value) != value {
		return 0, &ValidationError{Field: field, Reason: "must be an integer"}
	}
	if value < MinViewportDimension || value > MaxViewportDimension {
		return 0, &ValidationError{
			Field:  field,
			Reason: fmt.Sprintf("must be between %d and %d", MinViewportDimension, MaxViewportDimension),
		}
	}
	return int(value), nil
}
