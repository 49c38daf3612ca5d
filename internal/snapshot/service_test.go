package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-monitor/internal/differ"
	"github.com/JakeFAU/sitemap-monitor/internal/hash/sha256"
	"github.com/JakeFAU/sitemap-monitor/internal/monitor"
	"github.com/JakeFAU/sitemap-monitor/internal/storage/memory"
)

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("snap-%d", s.n), nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func entries(pairs ...string) []monitor.Entry {
	out := make([]monitor.Entry, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, monitor.Entry{URL: pairs[i], LastMod: monitor.StringPtr(pairs[i+1])})
	}
	return out
}

func newService(store monitor.SnapshotStore, opts ...Option) (*Service, *int) {
	svc := NewService(store, sha256.New(), &seqIDs{}, fixedClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}, opts...)
	calls := new(int)
	svc.compare = func(old, updated []monitor.Entry) monitor.Diff {
		*calls++
		return differ.Compare(old, updated)
	}
	return svc, calls
}

func TestCreate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	svc, _ := newService(store)

	snap, err := svc.Create(ctx, "m1", entries("https://e.com/b", "", "https://e.com/a", "2025"), 2*time.Second, time.Second)
	require.NoError(t, err)
	require.Equal(t, "snap-1", snap.ID)
	require.Equal(t, 2, snap.URLCount)
	require.Equal(t, sha256.New().URLSetDigest([]string{"https://e.com/a", "https://e.com/b"}), snap.URLHash)
	require.Equal(t, 2*time.Second, snap.FetchDuration)

	latest, err := svc.Latest(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, snap.ID, latest.ID)
}

func TestCompareWithPrevious_NoPrior(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, calls := newService(memory.NewStore())

	snap, err := svc.Create(ctx, "m1", entries("u1", "", "u2", "", "u3", ""), 0, 0)
	require.NoError(t, err)
	cmp, err := svc.CompareWithPrevious(ctx, snap)
	require.NoError(t, err)
	require.Nil(t, cmp.Prior)
	require.Equal(t, monitor.ChangeInitial, cmp.ChangeType())
	require.Zero(t, *calls)
}

func TestCompareWithPrevious_HashEqualSkipsDiffer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, calls := newService(memory.NewStore())

	first, err := svc.Create(ctx, "m1", entries("u1", "", "u2", ""), 0, 0)
	require.NoError(t, err)
	second, err := svc.Create(ctx, "m1", entries("u2", "", "u1", ""), 0, 0)
	require.NoError(t, err)

	cmp, err := svc.CompareWithPrevious(ctx, second)
	require.NoError(t, err)
	require.True(t, cmp.HashEqual)
	require.Equal(t, first.ID, cmp.Prior.ID)
	require.Equal(t, monitor.ChangeNone, cmp.ChangeType())
	require.Zero(t, *calls)
}

func TestCompareWithPrevious_LastModOnlyChangeIsUnchanged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, calls := newService(memory.NewStore())

	_, err := svc.Create(ctx, "m1", entries("u1", "2025-01-01", "u2", "2025-01-01"), 0, 0)
	require.NoError(t, err)
	second, err := svc.Create(ctx, "m1", entries("u1", "2025-02-01", "u2", ""), 0, 0)
	require.NoError(t, err)

	cmp, err := svc.CompareWithPrevious(ctx, second)
	require.NoError(t, err)
	require.Equal(t, monitor.ChangeNone, cmp.ChangeType())
	require.Empty(t, cmp.Diff.Modified)
	require.Zero(t, *calls)
}

func TestCompareWithPrevious_Changed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, calls := newService(memory.NewStore())

	first, err := svc.Create(ctx, "m1", entries("a", "", "b", ""), 0, 0)
	require.NoError(t, err)
	second, err := svc.Create(ctx, "m1", entries("b", "", "c", ""), 0, 0)
	require.NoError(t, err)

	cmp, err := svc.CompareWithPrevious(ctx, second)
	require.NoError(t, err)
	require.Equal(t, 1, *calls)
	require.Equal(t, first.ID, cmp.Prior.ID)
	require.Equal(t, monitor.ChangeDetected, cmp.ChangeType())
	require.Len(t, cmp.Diff.Added, 1)
	require.Equal(t, "c", cmp.Diff.Added[0].URL)
	require.Len(t, cmp.Diff.Removed, 1)
	require.Equal(t, "a", cmp.Diff.Removed[0].URL)
}

func TestBindUsesGivenStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	outer := memory.NewStore()
	inner := memory.NewStore()
	svc, _ := newService(outer)

	_, err := svc.Bind(inner).Create(ctx, "m1", entries("a", ""), 0, 0)
	require.NoError(t, err)
	require.Empty(t, outer.Snapshots("m1"))
	require.Len(t, inner.Snapshots("m1"), 1)
}

func TestArchive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := memory.NewBlobStore()
	svc, _ := newService(memory.NewStore(), WithArchive(blobs, "snapshots"))

	snap, err := svc.Create(ctx, "m1", entries("a", "2025"), 0, 0)
	require.NoError(t, err)
	uri, err := svc.Archive(ctx, snap)
	require.NoError(t, err)
	require.Equal(t, "memory://snapshots/m1/snap-1.json", uri)

	data, contentType, ok := blobs.Object("snapshots/m1/snap-1.json")
	require.True(t, ok)
	require.Equal(t, "application/json", contentType)
	var decoded monitor.Snapshot
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, snap.Entries, decoded.Entries)

	noArchive, _ := newService(memory.NewStore())
	uri, err = noArchive.Archive(ctx, snap)
	require.NoError(t, err)
	require.Empty(t, uri)
}
