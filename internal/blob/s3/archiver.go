package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fanclash/settlement/internal/domain"
)

// Narrow store interfaces required by the archiver. The archiver only needs
// the time-ranged export queries, not the full store interfaces; the
// Postgres stores satisfy these implicitly.

// AuditArchiveStore provides read access to audit entries for archival.
type AuditArchiveStore interface {
	// ListBefore returns all audit entries created strictly before the
	// given cutoff time.
	ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error)
}

// TransferArchiveStore provides read access to dispatched transfers for
// archival.
type TransferArchiveStore interface {
	// ListSentBefore returns all transfers sent strictly before the given
	// cutoff time.
	ListSentBefore(ctx context.Context, before time.Time) ([]domain.Transfer, error)
}

// Archiver exports the settlement audit trail and dispatched transfers to
// object storage as monthly JSONL files.
//
// Deletion of the archived rows from the primary store is intentionally NOT
// performed here. That is a separate, explicit step to be executed after the
// archive has been verified.
type Archiver struct {
	writer    domain.BlobWriter
	audit     AuditArchiveStore
	transfers TransferArchiveStore
	log       domain.AuditStore
}

// NewArchiver creates a new Archiver.
func NewArchiver(
	writer domain.BlobWriter,
	audit AuditArchiveStore,
	transfers TransferArchiveStore,
	log domain.AuditStore,
) *Archiver {
	return &Archiver{
		writer:    writer,
		audit:     audit,
		transfers: transfers,
		log:       log,
	}
}

// ArchiveAudit exports all audit entries before the cutoff to
// archive/audit/YYYY-MM.jsonl and records the export in the audit log.
// Returns the number of exported entries.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	count := int64(len(entries))

	if err := a.log.Log(ctx, "archive.audit", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}

	return count, nil
}

// ArchiveTransfers exports all dispatched transfers sent before the cutoff
// to archive/transfers/YYYY-MM.jsonl and records the export in the audit
// log. Returns the number of exported transfers.
func (a *Archiver) ArchiveTransfers(ctx context.Context, before time.Time) (int64, error) {
	transfers, err := a.transfers.ListSentBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transfers query: %w", err)
	}
	if len(transfers) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(transfers)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transfers marshal: %w", err)
	}

	path := archivePath("transfers", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive transfers upload: %w", err)
	}

	count := int64(len(transfers))

	if err := a.log.Log(ctx, "archive.transfers", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive transfers log: %w", err)
	}

	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/audit/2026-08.jsonl
//	archive/transfers/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON. Each
// element becomes one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
