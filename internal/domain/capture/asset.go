package capture

import (
	"fmt"
	"strings"
)

// ImageType is the output raster format of a stored screenshot.
type ImageType string

const (
	ImageTypePNG  ImageType = "png"
	ImageTypeJPEG ImageType = "jpeg"
)

// ParseImageType accepts only the exact lowercase names.
func ParseImageType(value string) (ImageType, error) {
	switch ImageType(value) {
	case ImageTypePNG, ImageTypeJPEG:
		return ImageType(value), nil
	default:
		return "", fmt.Errorf("must be one of png, jpeg")
	}
}

func (t ImageType) String() string {
	return string(t)
}

func (t ImageType) ContentType() string {
	if t == ImageTypeJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

func (t ImageType) Extension() string {
	if t == ImageTypeJPEG {
		return "jpg"
	}
	return "png"
}

// PersistedAsset describes a stored screenshot as reported by the storage backend.
type PersistedAsset struct {
	URL    string
	Width  int
	Height int
	Bytes  int
	ID     string
	Format string
}

// Validate checks that the storage backend returned a complete descriptor.
func (a PersistedAsset) Validate() error {
	missing := make([]string, 0)
	if a.URL == "" {
		missing = append(missing, "url")
	}
	if a.ID == "" {
		missing = append(missing, "id")
	}
	if a.Format == "" {
		missing = append(missing, "format")
	}
	if a.Width <= 0 {
		missing = append(missing, "width")
	}
	if a.Height <= 0 {
		missing = append(missing, "height")
	}
	if a.Bytes <= 0 {
		missing = append(missing, "bytes")
	}
	if len(missing) > 0 {
		return fmt.Errorf("incomplete asset descriptor, missing: %s", strings.Join(missing, ","))
	}
	return nil
}
