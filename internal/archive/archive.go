// Package archive copies finished translation artifacts to object storage
// or a local directory.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"pdf-translate-api/internal/logger"
)

// Archiver stores one artifact under jobID/name.
type Archiver interface {
	Save(ctx context.Context, jobID, name string, data []byte) error
	Enabled() bool
}

// Nop is used when archiving is disabled.
type Nop struct{}

func (Nop) Save(context.Context, string, string, []byte) error { return nil }
func (Nop) Enabled() bool                                      { return false }

const (
	defaultAttempts = 4
	writeTimeout    = 50 * time.Second
)

// GCSArchiver writes objects to a Cloud Storage bucket. Objects are created
// with a DoesNotExist precondition, so saving the same job twice is a no-op.
type GCSArchiver struct {
	bucket    string
	newWriter func(ctx context.Context, object string) io.WriteCloser
	log       logger.Logger

	attempts int
	backoff  time.Duration
}

// NewGCSArchiver archives into bucket using client.
func NewGCSArchiver(client *storage.Client, bucket string, log logger.Logger) *GCSArchiver {
	handle := client.Bucket(bucket)
	return &GCSArchiver{
		bucket: bucket,
		newWriter: func(ctx context.Context, object string) io.WriteCloser {
			w := handle.Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
			w.ContentType = "application/pdf"
			return w
		},
		log:      log,
		attempts: defaultAttempts,
		backoff:  time.Second,
	}
}

func (a *GCSArchiver) Enabled() bool { return true }

// ObjectName is the key an artifact is stored under.
func ObjectName(jobID, name string) string {
	return path.Join(jobID, name)
}

// Save uploads data, retrying transient failures with exponential backoff.
func (a *GCSArchiver) Save(ctx context.Context, jobID, name string, data []byte) error {
	object := ObjectName(jobID, name)
	backoff := a.backoff
	var lastErr error

	for i := 0; i < a.attempts; i++ {
		err := a.write(ctx, object, data)
		if err == nil {
			return nil
		}
		if isPreconditionFailed(err) {
			a.log.Info("archive object already exists", logger.String("object", object))
			return nil
		}

		lastErr = err
		a.log.Warn("archive upload failed, will retry",
			logger.String("object", object),
			logger.Int("attempt", i+1),
			logger.Duration("backoff", backoff),
			logger.Err(err))

		if i == a.attempts-1 {
			break
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("archive gs://%s/%s: %w", a.bucket, object, lastErr)
}

func (a *GCSArchiver) write(ctx context.Context, object string, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	w := a.newWriter(writeCtx, object)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
