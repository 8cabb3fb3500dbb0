package mirror

import (
	"bytes"
	"context"
	"sync"

	"gopkg.in/kothar/go-backblaze.v0"
)

type b2Sink struct {
	pool *sync.Pool
}

// NewB2 returns a mirror Sink backed by a Backblaze B2 bucket. acctID and
// appKey are the Account ID and Application Key of the bucket; keys other
// than the master key can be used by passing acctID as empty and keyID as
// the key's own id.
func NewB2(acctID, keyID, appKey, bucketName string) (Sink, error) {
	creds := backblaze.Credentials{
		AccountID:      acctID,
		ApplicationKey: appKey,
		KeyID:          keyID,
	}
	if acctID != "" {
		creds.KeyID = ""
	}

	pool := &sync.Pool{
		New: func() interface{} {
			conn, err := backblaze.NewB2(creds)
			if err != nil {
				return err
			}
			bucket, err := conn.Bucket(bucketName)
			if err != nil {
				return err
			}
			return bucket
		},
	}

	return &b2Sink{pool: pool}, nil
}

func (b *b2Sink) Put(ctx context.Context, key string, data []byte) error {
	bucket := b.pool.Get()
	if err, ok := bucket.(error); ok {
		return err
	}
	defer b.pool.Put(bucket)

	_, err := bucket.(*backblaze.Bucket).UploadTypedFile(key, "application/octet-stream", nil, bytes.NewReader(data))
	return err
}
