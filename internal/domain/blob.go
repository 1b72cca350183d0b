package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// ReportArchive stores settlement reports in cold storage.
type ReportArchive interface {
	Archive(ctx context.Context, report SettlementReport) error
	Load(ctx context.Context, roundID string) (SettlementReport, error)
}
