package s3

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/singleflight"
)

// ObjectSource loads document payloads from an S3 bucket. Objects are
// immutable once uploaded, so results are cached by key.
type ObjectSource struct {
	bucket string
	client *s3.Client

	cache   map[string][]byte
	cacheMu sync.RWMutex
	group   singleflight.Group
}

// NewObjectSourceWithClient reads from bucket through a preconfigured client.
func NewObjectSourceWithClient(bucket string, client *s3.Client) *ObjectSource {
	return &ObjectSource{
		bucket: bucket,
		client: client,
		cache:  make(map[string][]byte),
	}
}

// Get implements loader.Source.
func (l *ObjectSource) Get(ctx context.Context, key string) ([]byte, error) {
	l.cacheMu.RLock()
	if cached, ok := l.cache[key]; ok {
		l.cacheMu.RUnlock()
		return cached, nil
	}
	l.cacheMu.RUnlock()

	result, err, _ := l.group.Do(key, func() (any, error) {
		out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(l.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, err
		}
		defer out.Body.Close()

		buf := new(bytes.Buffer)
		if _, err := io.Copy(buf, out.Body); err != nil {
			return nil, err
		}
		data := buf.Bytes()

		l.cacheMu.Lock()
		l.cache[key] = data
		l.cacheMu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}
