package s3

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"net/url"
	"path"
	"strings"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/dreschagin/screenshot-api/internal/application/port"
	"github.com/dreschagin/screenshot-api/internal/domain/capture"
)

const backendName = "s3"

type URLMode string

const (
	URLModePresigned URLMode = "presigned"
	URLModePublic    URLMode = "public"
)

type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	KeyPrefix       string
	URLMode         URLMode
	PresignedTTL    time.Duration
	JPEGQuality     int
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type objectPresigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// AssetStorage stores screenshots in an S3-compatible bucket.
type AssetStorage struct {
	client       objectPutter
	presign      objectPresigner
	bucket       string
	endpoint     string
	usePathStyle bool
	keyPrefix    string
	urlMode      URLMode
	presignedTTL time.Duration
	jpegQuality  int
	now          func() time.Time
}

func NewAssetStorage(ctx context.Context, cfg Config) (*AssetStorage, error) {
	cfg, err := normalizeConfig(cfg)
	if err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(options *s3.Options) {
		options.BaseEndpoint = &cfg.Endpoint
		options.UsePathStyle = cfg.UsePathStyle
	})

	return newAssetStorage(client, s3.NewPresignClient(client), cfg), nil
}

func normalizeConfig(cfg Config) (Config, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return cfg, fmt.Errorf("s3 bucket is required")
	}
	if strings.TrimSpace(cfg.AccessKeyID) == "" || strings.TrimSpace(cfg.SecretAccessKey) == "" {
		return cfg, fmt.Errorf("s3 access key id and secret are required")
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "ru-central1"
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = "https://storage.yandexcloud.net"
	}
	if cfg.URLMode == "" {
		cfg.URLMode = URLModePublic
	}
	if cfg.URLMode != URLModePresigned && cfg.URLMode != URLModePublic {
		return cfg, fmt.Errorf("unsupported s3 url mode: %s", cfg.URLMode)
	}
	if cfg.PresignedTTL <= 0 {
		cfg.PresignedTTL = 24 * time.Hour
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "screenshots"
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 90
	}
	return cfg, nil
}

func newAssetStorage(client objectPutter, presign objectPresigner, cfg Config) *AssetStorage {
	return &AssetStorage{
		client:       client,
		presign:      presign,
		bucket:       strings.TrimSpace(cfg.Bucket),
		endpoint:     strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		usePathStyle: cfg.UsePathStyle,
		keyPrefix:    strings.Trim(strings.TrimSpace(cfg.KeyPrefix), "/"),
		urlMode:      cfg.URLMode,
		presignedTTL: cfg.PresignedTTL,
		jpegQuality:  cfg.JPEGQuality,
		now:          time.Now,
	}
}

// Store uploads a rendered PNG, converting it to JPEG first when requested.
func (s *AssetStorage) Store(ctx context.Context, data []byte, imageType capture.ImageType) (*capture.PersistedAsset, error) {
	body, width, height, err := s.prepare(data, imageType)
	if err != nil {
		return nil, &port.PersistenceError{Backend: backendName, Err: err}
	}

	key := s.objectKey(imageType)
	contentType := imageType.ContentType()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	})
	if err != nil {
		return nil, &port.PersistenceError{Backend: backendName, Err: fmt.Errorf("put object failed: %w", err)}
	}

	objectURL, err := s.objectURL(ctx, key)
	if err != nil {
		return nil, &port.PersistenceError{Backend: backendName, Err: err}
	}

	asset := &capture.PersistedAsset{
		URL:    objectURL,
		Width:  width,
		Height: height,
		Bytes:  len(body),
		ID:     key,
		Format: imageType.Extension(),
	}
	if err := asset.Validate(); err != nil {
		return nil, &port.PersistenceError{Backend: backendName, Err: err}
	}

	return asset, nil
}

// prepare returns the bytes to upload together with the image dimensions.
func (s *AssetStorage) prepare(data []byte, imageType capture.ImageType) ([]byte, int, int, error) {
	if imageType != capture.ImageTypeJPEG {
		cfg, err := png.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, 0, 0, fmt.Errorf("rendered image is not a valid png: %w", err)
		}
		return data, cfg.Width, cfg.Height, nil
	}

	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("rendered image is not a valid png: %w", err)
	}

	// JPEG has no alpha channel, transparent areas are flattened onto white.
	bounds := src.Bounds()
	flat := image.NewRGBA(bounds)
	draw.Draw(flat, bounds, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(flat, bounds, src, bounds.Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: s.jpegQuality}); err != nil {
		return nil, 0, 0, fmt.Errorf("jpeg encode failed: %w", err)
	}

	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}

// objectKey builds <prefix>/YYYY/MM/DD/<uuid>.<ext>.
func (s *AssetStorage) objectKey(imageType capture.ImageType) string {
	now := s.now().UTC()
	return path.Join(
		s.keyPrefix,
		now.Format("2006"),
		now.Format("01"),
		now.Format("02"),
		uuid.NewString()+"."+imageType.Extension(),
	)
}

func (s *AssetStorage) objectURL(ctx context.Context, key string) (string, error) {
	if s.urlMode == URLModePublic {
		return s.publicURL(key), nil
	}

	request, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(s.presignedTTL))
	if err != nil {
		return "", fmt.Errorf("presign failed: %w", err)
	}

	return request.URL, nil
}

func (s *AssetStorage) publicURL(key string) string {
	escapedKey := url.PathEscape(key)
	escapedKey = strings.ReplaceAll(escapedKey, "%2F", "/")
	if s.usePathStyle {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, escapedKey)
	}
	endpoint := strings.TrimPrefix(s.endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return fmt.Sprintf("https://%s.%s/%s", s.bucket, endpoint, escapedKey)
}
