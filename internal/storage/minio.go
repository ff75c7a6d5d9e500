package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/lostradar/lostradar/internal/faults"
)

// ObjectStore holds the raw item images in MinIO. Keys are content-unique
// (date-prefixed uuid), so a retried upload never clobbers another item.
type ObjectStore struct {
	client         *minio.Client
	bucketName     string
	publicEndpoint string
	useSSL         bool
}

// NewObjectStore creates the MinIO client and ensures the bucket exists
// with a public-read policy so image URLs are directly servable.
func NewObjectStore(endpoint, publicEndpoint, accessKey, secretKey, bucketName string, useSSL bool) (*ObjectStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	if publicEndpoint == "" {
		publicEndpoint = endpoint
	}
	publicEndpoint = strings.TrimSuffix(strings.TrimSpace(publicEndpoint), "/")

	s := &ObjectStore{
		client:         client,
		bucketName:     bucketName,
		publicEndpoint: publicEndpoint,
		useSSL:         useSSL,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		log.Warn().Err(err).Msgf("Failed to check bucket existence for %s (will continue)", bucketName)
	} else if !exists {
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			log.Error().Err(err).Msgf("Failed to create bucket %s", bucketName)
		} else {
			log.Info().Msgf("Bucket %s created", bucketName)
			policy := fmt.Sprintf(`{"Version": "2012-10-17","Statement": [{"Action": ["s3:GetObject"],"Effect": "Allow","Principal": {"AWS": ["*"]},"Resource": ["arn:aws:s3:::%s/*"],"Sid": ""}]}`, bucketName)
			if err := client.SetBucketPolicy(ctx, bucketName, policy); err != nil {
				log.Error().Err(err).Msg("Failed to set bucket policy")
			}
		}
	}

	log.Info().
		Str("endpoint", endpoint).
		Str("public_endpoint", publicEndpoint).
		Str("bucket", bucketName).
		Msg("Object store initialized")

	return s, nil
}

// Put stores one image and returns its object key and public URL.
func (s *ObjectStore) Put(ctx context.Context, reader io.Reader, filename, contentType string, size int64) (string, string, error) {
	ext := filepath.Ext(filename)
	key := fmt.Sprintf("items/%s/%s%s", time.Now().Format("2006-01-02"), uuid.New().String(), ext)

	_, err := s.client.PutObject(ctx, s.bucketName, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", "", faults.Tag(faults.ErrStorage, fmt.Errorf("failed to upload image: %w", err))
	}

	publicURL := s.URLFor(key)

	log.Info().
		Str("filename", filename).
		Str("key", key).
		Str("url", publicURL).
		Msg("Image stored")

	return key, publicURL, nil
}

// Delete removes one image by object key.
func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return faults.Tagf(faults.ErrStorage, "empty object key")
	}
	err := s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{})
	if err != nil {
		return faults.Tag(faults.ErrStorage, fmt.Errorf("failed to delete image %s: %w", key, err))
	}

	log.Info().Str("key", key).Msg("Image deleted")
	return nil
}

// Exists reports whether an object with the given key is stored.
func (s *ObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucketName, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, faults.Tag(faults.ErrStorage, err)
	}
	return true, nil
}

// URLFor returns the public URL for an object key.
func (s *ObjectStore) URLFor(key string) string {
	if strings.Contains(s.publicEndpoint, "://") {
		return fmt.Sprintf("%s/%s/%s", s.publicEndpoint, s.bucketName, key)
	}
	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.publicEndpoint, s.bucketName, key)
}

// KeyFromURL extracts the object key from a public URL. Returns "" when
// the URL does not belong to this bucket.
func (s *ObjectStore) KeyFromURL(imageURL string) string {
	u, err := url.Parse(imageURL)
	if err != nil {
		return ""
	}
	path := strings.TrimPrefix(u.Path, "/")
	prefix := s.bucketName + "/"
	if strings.HasPrefix(path, prefix) {
		return strings.TrimPrefix(path, prefix)
	}
	return ""
}

// HealthCheck verifies the MinIO connection and bucket.
func (s *ObjectStore) HealthCheck(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("MinIO health check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", s.bucketName)
	}
	return nil
}
