package audio

import (
	"bytes"
	"context"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// BlobStore persists generated audio and returns a public URL.
type BlobStore interface {
	Upload(ctx context.Context, filename string, data []byte) (string, error)
}

// CloudinaryStore uploads MP3s under the audio/ folder. Cloudinary treats
// audio as the "video" resource type.
type CloudinaryStore struct {
	cld *cloudinary.Cloudinary
}

// NewCloudinaryFromEnv reads CLOUDINARY_URL; returns nil when it is unset.
func NewCloudinaryFromEnv() *CloudinaryStore {
	cld, err := cloudinary.New()
	if err != nil {
		return nil
	}
	return &CloudinaryStore{cld: cld}
}

func (s *CloudinaryStore) Upload(ctx context.Context, filename string, data []byte) (string, error) {
	publicID := "audio/" + strings.TrimSuffix(filename, ".mp3")
	res, err := s.cld.Upload.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		PublicID:     publicID,
		ResourceType: "video",
	})
	if err != nil {
		return "", err
	}
	return res.SecureURL, nil
}
