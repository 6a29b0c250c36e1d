package cloudinary

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"github.com/dreschagin/screenshot-api/internal/application/port"
	"github.com/dreschagin/screenshot-api/internal/domain/capture"
)

const (
	backendName   = "cloudinary"
	defaultFolder = "screenshots"
)

type Config struct {
	// URL is the cloudinary://<key>:<secret>@<cloud> connection string.
	URL    string
	Folder string
}

type uploadAPI interface {
	Upload(ctx context.Context, file interface{}, uploadParams uploader.UploadParams) (*uploader.UploadResult, error)
}

// AssetStorage uploads screenshots to Cloudinary as image resources.
type AssetStorage struct {
	uploader uploadAPI
	folder   string
}

func NewAssetStorage(cfg Config) (*AssetStorage, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("cloudinary url is required")
	}

	cld, err := cloudinary.NewFromURL(strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudinary client: %w", err)
	}

	return newAssetStorage(&cld.Upload, cfg.Folder), nil
}

func newAssetStorage(api uploadAPI, folder string) *AssetStorage {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		folder = defaultFolder
	}
	return &AssetStorage{uploader: api, folder: folder}
}

// Store uploads data and returns the descriptor reported by Cloudinary.
// Conversion to the requested format happens on the Cloudinary side.
func (s *AssetStorage) Store(ctx context.Context, data []byte, imageType capture.ImageType) (*capture.PersistedAsset, error) {
	result, err := s.uploader.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		Folder:       s.folder,
		ResourceType: "image",
		Format:       imageType.String(),
	})
	if err != nil {
		return nil, &port.PersistenceError{Backend: backendName, Err: err}
	}
	if result == nil {
		return nil, &port.PersistenceError{Backend: backendName, Err: errors.New("empty upload result")}
	}
	// The SDK reports API-level rejections in the result body rather than as an error.
	if result.Error.Message != "" {
		return nil, &port.PersistenceError{Backend: backendName, Err: errors.New(result.Error.Message)}
	}

	asset := &capture.PersistedAsset{
		URL:    result.SecureURL,
		Width:  result.Width,
		Height: result.Height,
		Bytes:  result.Bytes,
		ID:     result.PublicID,
		Format: result.Format,
	}
	if err := asset.Validate(); err != nil {
		return nil, &port.PersistenceError{Backend: backendName, Err: err}
	}

	return asset, nil
}
