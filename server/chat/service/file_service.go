package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/minio/minio-go/v7"
)

// FileService stores chat image attachments and serves presigned links.
type FileService struct {
	client *minio.Client
	bucket string
}

func NewFileService(client *minio.Client, bucket string) *FileService {
	return &FileService{client: client, bucket: bucket}
}

// Upload stores an attachment under the sender's prefix and returns a
// presigned download URL. Images additionally get a 320x320 thumbnail next
// to the original; a thumbnail failure never fails the upload.
func (s *FileService) Upload(ctx context.Context, userID, filename, contentType string, size int64, reader io.Reader) (string, error) {
	objectKey := fmt.Sprintf("%s/%d_%s", userID, time.Now().UnixNano(), filepath.Base(filename))

	if strings.HasPrefix(contentType, "image/") {
		buf, err := io.ReadAll(reader)
		if err != nil {
			return "", err
		}
		if _, err := s.client.PutObject(ctx, s.bucket, objectKey, bytes.NewReader(buf), int64(len(buf)), minio.PutObjectOptions{ContentType: contentType}); err != nil {
			return "", err
		}
		_, _ = s.makeThumbnail(ctx, objectKey, buf)
	} else {
		if _, err := s.client.PutObject(ctx, s.bucket, objectKey, reader, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
			return "", err
		}
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, 7*24*time.Hour, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (s *FileService) makeThumbnail(ctx context.Context, objectKey string, raw []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}

	thumb := imaging.Thumbnail(img, 320, 320, imaging.Lanczos)
	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, thumb, imaging.JPEG); err != nil {
		return "", err
	}

	ext := filepath.Ext(objectKey)
	thumbKey := strings.TrimSuffix(objectKey, ext) + "_thumb.jpg"
	reader := bytes.NewReader(buf.Bytes())
	if _, err := s.client.PutObject(ctx, s.bucket, thumbKey, reader, int64(reader.Len()), minio.PutObjectOptions{ContentType: "image/jpeg"}); err != nil {
		return "", fmt.Errorf("upload thumb: %w", err)
	}
	return thumbKey, nil
}
