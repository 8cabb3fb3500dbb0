package mirror

import (
	"context"
	"os"

	"cloud.google.com/go/storage"
)

type gcsSink struct {
	bucket *storage.BucketHandle
}

// NewGCS returns a mirror Sink backed by Google Cloud Storage. If
// credentialsPath is non-empty, it's set as
// GOOGLE_APPLICATION_CREDENTIALS before the client is built.
func NewGCS(bucketName, credentialsPath string) (Sink, error) {
	if credentialsPath != "" {
		if err := os.Setenv("GOOGLE_APPLICATION_CREDENTIALS", credentialsPath); err != nil {
			return nil, err
		}
	}

	client, err := storage.NewClient(context.Background())
	if err != nil {
		return nil, err
	}

	return &gcsSink{bucket: client.Bucket(bucketName)}, nil
}

func (g *gcsSink) Put(ctx context.Context, key string, data []byte) error {
	w := g.bucket.Object(key).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
