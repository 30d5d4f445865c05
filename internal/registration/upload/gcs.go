package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"mkcompany/pkg/platform/sentinel"
)

// gcsChunkSize is small enough that a 10 MiB document reports progress several times.
const gcsChunkSize = 256 << 10

// GCSStore writes documents to a Google Cloud Storage bucket. Objects are
// created with a does-not-exist precondition so a path is never overwritten.
type GCSStore struct {
	bucket *storage.BucketHandle
}

func NewGCSStore(client *storage.Client, bucket string) *GCSStore {
	return &GCSStore{bucket: client.Bucket(bucket)}
}

func (s *GCSStore) ReportsProgress() bool {
	return true
}

func (s *GCSStore) Put(ctx context.Context, obj Object, onProgress func(int64)) error {
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.bucket.Object(obj.Path).If(storage.Conditions{DoesNotExist: true}).NewWriter(writeCtx)
	w.ContentType = obj.ContentType
	w.ChunkSize = gcsChunkSize
	if onProgress != nil {
		w.ProgressFunc = onProgress
	}

	if _, err := io.Copy(w, bytes.NewReader(obj.Data)); err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("write object %s: %w", obj.Path, err)
	}
	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("finalize object %s: %w", obj.Path, err)
	}
	return nil
}

func (s *GCSStore) Delete(ctx context.Context, path string) error {
	err := s.bucket.Object(path).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete object %s: %w", path, err)
	}
	return nil
}
