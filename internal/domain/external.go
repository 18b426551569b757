package domain

import (
	"context"
	"io"
	"time"
)

// ResultSource returns the authoritative final score for an external event
// reference. Implementations return ErrResultUnavailable when the result is
// not yet published or cannot be parsed; both are transient and leave the
// market untouched.
type ResultSource interface {
	Final(ctx context.Context, eventRef string) (FinalScore, error)
}

// Transferrer moves value to a user account through the external
// value-transfer service. idempotencyKey is the outbox transfer ID; the
// service deduplicates on it, so retrying a timed-out call cannot pay twice.
type Transferrer interface {
	Transfer(ctx context.Context, idempotencyKey, account string, amount int64) error
}

// BlobWriter stores audit export objects in object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobInfo describes a stored export object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobReader retrieves audit export objects from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}
