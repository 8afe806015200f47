package blob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// S3 stores clips as objects under the "clips/" prefix of one bucket.
type S3 struct {
	client    *s3.Client
	bucket    string
	region    string
	publicURL string
}

// NewS3 resolves credentials through the default AWS chain.
func NewS3(ctx context.Context, bucket, region, publicURL string) (*S3, error) {
	if bucket == "" {
		return nil, fmt.Errorf("blob: s3 backend needs a bucket")
	}
	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3FromClient(s3.NewFromConfig(cfg), bucket, cfg.Region, publicURL), nil
}

func NewS3FromClient(client *s3.Client, bucket, region, publicURL string) *S3 {
	return &S3{client: client, bucket: bucket, region: region, publicURL: publicURL}
}

func (s *S3) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	key := "clips/" + newKey(contentType)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	log.Debug().Str("module", "blob").Str("bucket", s.bucket).Str("key", key).Int("bytes", len(data)).Msg("stored")
	return s.objectURL(key), nil
}

func (s *S3) objectURL(key string) string {
	if s.publicURL != "" {
		return joinURL(s.publicURL, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
