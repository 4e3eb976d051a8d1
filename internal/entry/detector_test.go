package entry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/hitoshi/anpi/internal/model"
	"github.com/hitoshi/anpi/internal/repository"
)

// memoryEntryRepo はテスト用のインメモリEntryRepository。
type memoryEntryRepo struct {
	hashes      map[string]string
	lookupSizes []int
	upsertSizes []int
	findErr     error
	upsertErr   error
}

func newMemoryEntryRepo() *memoryEntryRepo {
	return &memoryEntryRepo{hashes: map[string]string{}}
}

func (m *memoryEntryRepo) FindHashes(ctx context.Context, keys []string) (map[string]string, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.lookupSizes = append(m.lookupSizes, len(keys))
	out := map[string]string{}
	for _, k := range keys {
		if h, ok := m.hashes[k]; ok {
			out[k] = h
		}
	}
	return out, nil
}

func (m *memoryEntryRepo) UpsertBatch(ctx context.Context, entries []model.FeedEntry) error {
	m.upsertSizes = append(m.upsertSizes, len(entries))
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, e := range entries {
		m.hashes[e.EntryKey] = e.ContentHash
	}
	return nil
}

var _ repository.EntryRepository = (*memoryEntryRepo)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func makeEntries(n int, hashSuffix string) []model.FeedEntry {
	entries := make([]model.FeedEntry, n)
	for i := range entries {
		entries[i] = model.FeedEntry{
			EntryKey:    fmt.Sprintf("urn:uuid:%03d", i),
			ContentHash: fmt.Sprintf("hash-%03d%s", i, hashSuffix),
		}
	}
	return entries
}

// TestDetectChanges_SecondRunIsEmpty は同一内容を2回処理すると2回目の変更が0件になることをテストする。
func TestDetectChanges_SecondRunIsEmpty(t *testing.T) {
	repo := newMemoryEntryRepo()
	d := NewDetector(repo, discardLogger())
	entries := makeEntries(5, "")

	first, err := d.DetectChanges(context.Background(), entries)
	if err != nil {
		t.Fatalf("1回目 error = %v", err)
	}
	if len(first) != 5 {
		t.Errorf("1回目 changed = %d, want 5", len(first))
	}

	second, err := d.DetectChanges(context.Background(), entries)
	if err != nil {
		t.Fatalf("2回目 error = %v", err)
	}
	if len(second) != 0 {
		t.Errorf("2回目 changed = %d, want 0", len(second))
	}
}

// TestDetectChanges_HashChange はハッシュが変わったエントリのみ返すことをテストする。
func TestDetectChanges_HashChange(t *testing.T) {
	repo := newMemoryEntryRepo()
	d := NewDetector(repo, discardLogger())
	entries := makeEntries(3, "")
	if _, err := d.DetectChanges(context.Background(), entries); err != nil {
		t.Fatal(err)
	}

	entries[1].ContentHash = "hash-updated"
	changed, err := d.DetectChanges(context.Background(), entries)
	if err != nil {
		t.Fatal(err)
	}
	if len(changed) != 1 || changed[0].EntryKey != "urn:uuid:001" {
		t.Errorf("changed = %+v, want only urn:uuid:001", changed)
	}
}

// TestDetectChanges_Chunking は参照を100件、保存を50件単位で分割することをテストする。
func TestDetectChanges_Chunking(t *testing.T) {
	repo := newMemoryEntryRepo()
	d := NewDetector(repo, discardLogger())

	if _, err := d.DetectChanges(context.Background(), makeEntries(230, "")); err != nil {
		t.Fatal(err)
	}

	wantLookups := []int{100, 100, 30}
	if fmt.Sprint(repo.lookupSizes) != fmt.Sprint(wantLookups) {
		t.Errorf("lookup chunks = %v, want %v", repo.lookupSizes, wantLookups)
	}
	wantUpserts := []int{50, 50, 50, 50, 30}
	if fmt.Sprint(repo.upsertSizes) != fmt.Sprint(wantUpserts) {
		t.Errorf("upsert chunks = %v, want %v", repo.upsertSizes, wantUpserts)
	}
}

// TestDetectChanges_UpsertFailureIsTolerated は保存失敗でも変更が返ることをテストする。
func TestDetectChanges_UpsertFailureIsTolerated(t *testing.T) {
	repo := newMemoryEntryRepo()
	repo.upsertErr = errors.New("connection reset")
	d := NewDetector(repo, discardLogger())

	changed, err := d.DetectChanges(context.Background(), makeEntries(2, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changed) != 2 {
		t.Errorf("changed = %d, want 2", len(changed))
	}
}

// TestDetectChanges_LookupFailure はハッシュ参照の失敗がエラーとして返ることをテストする。
func TestDetectChanges_LookupFailure(t *testing.T) {
	repo := newMemoryEntryRepo()
	repo.findErr = errors.New("timeout")
	d := NewDetector(repo, discardLogger())

	if _, err := d.DetectChanges(context.Background(), makeEntries(1, "")); err == nil {
		t.Fatal("expected error, got nil")
	}
	if len(repo.upsertSizes) != 0 {
		t.Error("参照失敗時に保存が実行されました")
	}
}

func TestDetectChanges_Empty(t *testing.T) {
	d := NewDetector(newMemoryEntryRepo(), discardLogger())
	changed, err := d.DetectChanges(context.Background(), nil)
	if err != nil || changed != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", changed, err)
	}
}
