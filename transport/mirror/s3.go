package mirror

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

type s3Sink struct {
	bucket string
	client *s3.S3
}

// NewS3 returns a mirror Sink backed by an S3-compatible bucket.
// accessKeyID/secretAccessKey are static credentials; endpoint/region
// locate the cluster (a custom endpoint lets this target any
// S3-compatible provider, not just AWS).
func NewS3(accessKeyID, secretAccessKey, bucket, endpoint, region string) (Sink, error) {
	client := s3.New(session.New(&aws.Config{
		Credentials:      credentials.NewStaticCredentials(accessKeyID, secretAccessKey, ""),
		Endpoint:         aws.String(endpoint),
		Region:           aws.String(region),
		S3ForcePathStyle: aws.Bool(true),
	}))

	return &s3Sink{bucket: bucket, client: client}, nil
}

func (s *s3Sink) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}
