package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"walletwatch/internal/domain"
)

// BlobPutter uploads a single object; satisfied by *Client.
type BlobPutter interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
}

// MultipartPutter is implemented by blob stores that can split large objects
// into concurrently uploaded parts.
type MultipartPutter interface {
	PutMultipart(ctx context.Context, key string, data io.Reader, contentType string, partSize int64) error
}

// multipartThreshold is the payload size above which uploads switch to the
// multipart path.
const multipartThreshold = 8 * 1024 * 1024

// PositionSource provides the positions to snapshot. Narrower than
// domain.PositionStore so tests and adapters stay small.
type PositionSource interface {
	List(ctx context.Context, f domain.PositionFilter) ([]domain.Position, error)
}

// CycleSource provides the closed cycles to snapshot.
type CycleSource interface {
	ListSince(ctx context.Context, since time.Time) ([]domain.ClosedCycle, error)
}

// Snapshotter uploads a daily JSONL snapshot of all positions plus the
// cycles closed in the last day. Snapshots are additive backups; nothing is
// deleted from the primary store.
type Snapshotter struct {
	blob      BlobPutter
	positions PositionSource
	cycles    CycleSource
	audit     domain.AuditStore
}

// NewSnapshotter creates a Snapshotter.
func NewSnapshotter(blob BlobPutter, positions PositionSource, cycles CycleSource, audit domain.AuditStore) *Snapshotter {
	return &Snapshotter{
		blob:      blob,
		positions: positions,
		cycles:    cycles,
		audit:     audit,
	}
}

// SnapshotReport counts the records written by one snapshot run.
type SnapshotReport struct {
	Positions int `json:"positions"`
	Cycles    int `json:"cycles"`
}

// Run uploads the snapshot for the UTC day containing now. Objects land
// under snapshots/YYYY/MM/DD/.
func (s *Snapshotter) Run(ctx context.Context, now time.Time) (SnapshotReport, error) {
	var report SnapshotReport
	day := now.UTC()

	positions, err := s.positions.List(ctx, domain.PositionFilter{Limit: 10000})
	if err != nil {
		return report, fmt.Errorf("archive: list positions: %w", err)
	}
	if len(positions) > 0 {
		buf, err := marshalJSONL(positions)
		if err != nil {
			return report, fmt.Errorf("archive: marshal positions: %w", err)
		}
		if err := s.upload(ctx, snapshotKey(day, "positions"), buf); err != nil {
			return report, err
		}
		report.Positions = len(positions)
	}

	cycles, err := s.cycles.ListSince(ctx, day.Add(-24*time.Hour))
	if err != nil {
		return report, fmt.Errorf("archive: list closed cycles: %w", err)
	}
	if len(cycles) > 0 {
		buf, err := marshalJSONL(cycles)
		if err != nil {
			return report, fmt.Errorf("archive: marshal closed cycles: %w", err)
		}
		if err := s.upload(ctx, snapshotKey(day, "closed_cycles"), buf); err != nil {
			return report, err
		}
		report.Cycles = len(cycles)
	}

	if err := s.audit.Log(ctx, "archive.snapshot", map[string]any{
		"day":       day.Format("2006-01-02"),
		"positions": report.Positions,
		"cycles":    report.Cycles,
	}); err != nil {
		return report, fmt.Errorf("archive: snapshot audit log: %w", err)
	}

	return report, nil
}

func (s *Snapshotter) upload(ctx context.Context, key string, buf []byte) error {
	if mp, ok := s.blob.(MultipartPutter); ok && int64(len(buf)) >= multipartThreshold {
		if err := mp.PutMultipart(ctx, key, bytes.NewReader(buf), "application/x-ndjson", minPartSize); err != nil {
			return fmt.Errorf("archive: upload %s: %w", key, err)
		}
		return nil
	}
	if err := s.blob.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("archive: upload %s: %w", key, err)
	}
	return nil
}

// snapshotKey builds the object key for one snapshot file, partitioned by
// UTC day: snapshots/2026/08/29/positions.jsonl.
func snapshotKey(day time.Time, kind string) string {
	return fmt.Sprintf("snapshots/%s/%s.jsonl", day.Format("2006/01/02"), kind)
}

// marshalJSONL serializes a slice as newline-delimited JSON, one compact
// record per line.
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
