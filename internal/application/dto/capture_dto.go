package dto

import "github.com/dreschagin/screenshot-api/internal/domain/capture"

// CaptureResponse is the success body of a capture request.
type CaptureResponse struct {
	URL      string `json:"url"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Bytes    int    `json:"bytes"`
	PublicID string `json:"public_id"`
	Format   string `json:"format"`
}

// ErrorResponse is the error envelope. Details is omitted when empty.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// FromAsset конвертирует сохраненный скриншот в ответ API
func FromAsset(asset capture.PersistedAsset) CaptureResponse {
	return CaptureResponse{
		URL:      asset.URL,
		Width:    asset.Width,
		Height:   asset.Height,
		Bytes:    asset.Bytes,
		PublicID: asset.ID,
		Format:   asset.Format,
	}
}
