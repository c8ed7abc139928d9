package archive

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletwatch/internal/domain"
	"walletwatch/internal/testkit"
)

type fakeBlob struct {
	objects map[string][]byte
	err     error
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: map[string][]byte{}}
}

func (f *fakeBlob) Put(_ context.Context, key string, data io.Reader, _ string) error {
	if f.err != nil {
		return f.err
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[key] = buf
	return nil
}

func TestSnapshotterUploadsDayPartitionedJSONL(t *testing.T) {
	positions := testkit.NewPositionStore()
	cycles := testkit.NewClosedCycleStore()
	audit := testkit.NewAuditStore()
	blob := newFakeBlob()

	now := time.Date(2026, 8, 29, 2, 0, 0, 0, time.UTC)

	_, err := positions.Create(context.Background(), domain.Position{
		WalletAddress: "wallet-a",
		TokenAddress:  "token-a",
		Status:        domain.PositionStatusHolding,
		Tracked:       true,
	})
	require.NoError(t, err)

	require.NoError(t, cycles.Insert(context.Background(), domain.ClosedCycle{
		PositionID:    1,
		WalletAddress: "wallet-a",
		TokenAddress:  "token-a",
		RealizedPnL:   2.5,
		ClosedAt:      now.Add(-3 * time.Hour),
	}))
	// Closed before the snapshot window, must not appear.
	require.NoError(t, cycles.Insert(context.Background(), domain.ClosedCycle{
		PositionID:    2,
		WalletAddress: "wallet-b",
		TokenAddress:  "token-b",
		ClosedAt:      now.Add(-48 * time.Hour),
	}))

	snap := NewSnapshotter(blob, positions, cycles, audit)
	report, err := snap.Run(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Positions)
	assert.Equal(t, 1, report.Cycles)

	posBody, ok := blob.objects["snapshots/2026/08/29/positions.jsonl"]
	require.True(t, ok, "positions object missing")
	assert.Equal(t, 1, bytes.Count(posBody, []byte("\n")))
	assert.Contains(t, string(posBody), "wallet-a")

	cycBody, ok := blob.objects["snapshots/2026/08/29/closed_cycles.jsonl"]
	require.True(t, ok, "closed cycles object missing")
	assert.NotContains(t, string(cycBody), "wallet-b")

	assert.Contains(t, audit.Events, "archive.snapshot")
}

func TestSnapshotterSkipsEmptyUploads(t *testing.T) {
	blob := newFakeBlob()
	snap := NewSnapshotter(blob, testkit.NewPositionStore(), testkit.NewClosedCycleStore(), testkit.NewAuditStore())

	report, err := snap.Run(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Zero(t, report.Positions)
	assert.Zero(t, report.Cycles)
	assert.Empty(t, blob.objects)
}
