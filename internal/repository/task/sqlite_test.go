package task

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/franklinbaldo/baliza-sub001/internal/platform/sqlite"
	domain "github.com/franklinbaldo/baliza-sub001/internal/task"
)

func setupTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func monthTask(month time.Month) *domain.Task {
	start := time.Date(2024, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)
	return domain.New("contracts", start, end, 500, "", "")
}

func TestUpsert(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.DB)
	ctx := context.Background()

	created, err := repo.Upsert(ctx, monthTask(time.January))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !created {
		t.Fatal("expected first upsert to insert")
	}

	created, err = repo.Upsert(ctx, monthTask(time.January))
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if created {
		t.Error("expected second upsert to be a no-op")
	}

	got, err := repo.Get(ctx, "contracts:2024-01-01")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Errorf("expected pending, got %s", got.Status)
	}
	if got.TotalPages != nil {
		t.Error("expected nil total pages before discovery")
	}
	if got.PageSize != 500 {
		t.Errorf("expected page size 500, got %d", got.PageSize)
	}
	if !got.BucketStart.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected bucket start: %v", got.BucketStart)
	}
	if !got.BucketEnd.Equal(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected bucket end: %v", got.BucketEnd)
	}
}

func TestUpsert_NeverOverwritesState(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.DB)
	ctx := context.Background()

	if _, err := repo.Upsert(ctx, monthTask(time.January)); err != nil {
		t.Fatal(err)
	}
	claimed, err := repo.ClaimPending(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v", err)
	}
	if err := repo.MarkDiscovered(ctx, claimed.Key, 3, 1200, []int{2, 3}); err != nil {
		t.Fatalf("mark discovered: %v", err)
	}

	// Re-planning the same window must not reset progress.
	created, err := repo.Upsert(ctx, monthTask(time.January))
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("expected upsert to skip existing key")
	}

	got, _ := repo.Get(ctx, claimed.Key)
	if got.Status != domain.StatusFetching {
		t.Errorf("expected fetching after re-plan, got %s", got.Status)
	}
	if got.TotalPages == nil || *got.TotalPages != 3 {
		t.Errorf("expected total pages 3, got %v", got.TotalPages)
	}
}

func TestGet_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.DB)

	if _, err := repo.Get(context.Background(), "contracts:2030-01-01"); err == nil {
		t.Fatal("expected error for missing task")
	}
}

func TestClaimPending(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.DB)
	ctx := context.Background()

	if _, err := repo.Upsert(ctx, monthTask(time.February)); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Upsert(ctx, monthTask(time.January)); err != nil {
		t.Fatal(err)
	}

	first, err := repo.ClaimPending(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if first == nil {
		t.Fatal("expected a claimed task")
	}
	if first.Key != "contracts:2024-01-01" {
		t.Errorf("expected the first key in order, got %s", first.Key)
	}
	if first.Status != domain.StatusDiscovering {
		t.Errorf("expected discovering, got %s", first.Status)
	}

	second, err := repo.ClaimPending(ctx)
	if err != nil {
		t.Fatalf("claim second: %v", err)
	}
	if second == nil || second.Key != "contracts:2024-02-01" {
		t.Fatalf("expected the february task, got %+v", second)
	}

	third, err := repo.ClaimPending(ctx)
	if err != nil {
		t.Fatalf("claim third: %v", err)
	}
	if third != nil {
		t.Errorf("expected nil when nothing is pending, got %s", third.Key)
	}
}

func TestClaimPending_NoDoubleClaim(t *testing.T) {
	// File-backed database so claims really contend across connections.
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "claims.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	repo := NewRepository(db.DB)
	ctx := context.Background()

	months := []time.Month{time.January, time.February, time.March, time.April, time.May, time.June}
	for _, m := range months {
		if _, err := repo.Upsert(ctx, monthTask(m)); err != nil {
			t.Fatal(err)
		}
	}

	var mu sync.Mutex
	claimed := make(map[string]int)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				tk, err := repo.ClaimPending(ctx)
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if tk == nil {
					return
				}
				mu.Lock()
				claimed[tk.Key]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != len(months) {
		t.Errorf("expected %d distinct claims, got %d", len(months), len(claimed))
	}
	for key, n := range claimed {
		if n != 1 {
			t.Errorf("task %s claimed %d times", key, n)
		}
	}
}

func TestMarkDiscovered(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.DB)
	ctx := context.Background()

	if _, err := repo.Upsert(ctx, monthTask(time.January)); err != nil {
		t.Fatal(err)
	}
	claimed, _ := repo.ClaimPending(ctx)

	if err := repo.MarkDiscovered(ctx, claimed.Key, 3, 1200, []int{2, 3}); err != nil {
		t.Fatalf("mark discovered: %v", err)
	}

	got, _ := repo.Get(ctx, claimed.Key)
	if got.Status != domain.StatusFetching {
		t.Errorf("expected fetching, got %s", got.Status)
	}
	if got.TotalPages == nil || *got.TotalPages != 3 {
		t.Errorf("expected 3 pages, got %v", got.TotalPages)
	}
	if got.TotalRecords == nil || *got.TotalRecords != 1200 {
		t.Errorf("expected 1200 records, got %v", got.TotalRecords)
	}
	if len(got.MissingPages) != 2 || got.MissingPages[0] != 2 || got.MissingPages[1] != 3 {
		t.Errorf("unexpected missing pages: %v", got.MissingPages)
	}

	// Only a discovering task can be marked; the claim is not repeatable.
	if err := repo.MarkDiscovered(ctx, claimed.Key, 3, 1200, []int{2, 3}); err == nil {
		t.Error("expected conflict for a second discovery")
	}
}

func TestMarkDiscovered_NoMissingCompletes(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.DB)
	ctx := context.Background()

	if _, err := repo.Upsert(ctx, monthTask(time.January)); err != nil {
		t.Fatal(err)
	}
	claimed, _ := repo.ClaimPending(ctx)

	if err := repo.MarkDiscovered(ctx, claimed.Key, 1, 42, nil); err != nil {
		t.Fatalf("mark discovered: %v", err)
	}

	got, _ := repo.Get(ctx, claimed.Key)
	if got.Status != domain.StatusComplete {
		t.Errorf("expected complete for a single-page task, got %s", got.Status)
	}
	if len(got.MissingPages) != 0 {
		t.Errorf("expected no missing pages, got %v", got.MissingPages)
	}
}

func TestMarkFetching(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.DB)
	ctx := context.Background()

	if _, err := repo.Upsert(ctx, monthTask(time.January)); err != nil {
		t.Fatal(err)
	}
	claimed, _ := repo.ClaimPending(ctx)
	_ = repo.MarkDiscovered(ctx, claimed.Key, 3, 1200, []int{2, 3})
	if err := repo.SetMissingPages(ctx, claimed.Key, []int{3}, domain.StatusPartial); err != nil {
		t.Fatal(err)
	}

	ok, err := repo.MarkFetching(ctx, claimed.Key)
	if err != nil {
		t.Fatalf("mark fetching: %v", err)
	}
	if !ok {
		t.Fatal("expected partial -> fetching to apply")
	}

	// Already fetching; the compare-and-set must not re-apply.
	ok, err = repo.MarkFetching(ctx, claimed.Key)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected no-op for a task that is not partial")
	}
}

func TestMarkFailed(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.DB)
	ctx := context.Background()

	if _, err := repo.Upsert(ctx, monthTask(time.January)); err != nil {
		t.Fatal(err)
	}
	claimed, _ := repo.ClaimPending(ctx)

	if err := repo.MarkFailed(ctx, claimed.Key, "status 500 after 5 attempts"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, _ := repo.Get(ctx, claimed.Key)
	if got.Status != domain.StatusFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
	if got.LastError != "status 500 after 5 attempts" {
		t.Errorf("unexpected last error: %s", got.LastError)
	}

	// Terminal rows stay terminal.
	if err := repo.MarkFailed(ctx, claimed.Key, "again"); err == nil {
		t.Error("expected conflict when failing a failed task")
	}
}

func TestSetLastError_KeepsStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.DB)
	ctx := context.Background()

	if _, err := repo.Upsert(ctx, monthTask(time.January)); err != nil {
		t.Fatal(err)
	}
	claimed, _ := repo.ClaimPending(ctx)
	_ = repo.MarkDiscovered(ctx, claimed.Key, 3, 1200, []int{2, 3})

	if err := repo.SetLastError(ctx, claimed.Key, "page 2: status 422"); err != nil {
		t.Fatalf("set last error: %v", err)
	}

	got, _ := repo.Get(ctx, claimed.Key)
	if got.Status != domain.StatusFetching {
		t.Errorf("expected status untouched, got %s", got.Status)
	}
	if got.LastError != "page 2: status 422" {
		t.Errorf("unexpected last error: %s", got.LastError)
	}
}

func TestSetMissingPages(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.DB)
	ctx := context.Background()

	if _, err := repo.Upsert(ctx, monthTask(time.January)); err != nil {
		t.Fatal(err)
	}
	claimed, _ := repo.ClaimPending(ctx)
	_ = repo.MarkDiscovered(ctx, claimed.Key, 3, 1200, []int{2, 3})

	if err := repo.SetMissingPages(ctx, claimed.Key, []int{3}, domain.StatusPartial); err != nil {
		t.Fatalf("set missing pages: %v", err)
	}
	got, _ := repo.Get(ctx, claimed.Key)
	if got.Status != domain.StatusPartial {
		t.Errorf("expected partial, got %s", got.Status)
	}
	if len(got.MissingPages) != 1 || got.MissingPages[0] != 3 {
		t.Errorf("unexpected missing pages: %v", got.MissingPages)
	}

	if err := repo.SetMissingPages(ctx, claimed.Key, nil, domain.StatusComplete); err != nil {
		t.Fatalf("settle complete: %v", err)
	}
	got, _ = repo.Get(ctx, claimed.Key)
	if got.Status != domain.StatusComplete {
		t.Errorf("expected complete, got %s", got.Status)
	}
	if len(got.MissingPages) != 0 {
		t.Errorf("expected empty missing pages, got %v", got.MissingPages)
	}

	// A settled task can never be reopened.
	if err := repo.SetMissingPages(ctx, claimed.Key, []int{2}, domain.StatusPartial); err == nil {
		t.Error("expected conflict writing to a complete task")
	}
}

func TestRecoverStale(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.DB)
	ctx := context.Background()

	if _, err := repo.Upsert(ctx, monthTask(time.January)); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Upsert(ctx, monthTask(time.February)); err != nil {
		t.Fatal(err)
	}
	claimed, _ := repo.ClaimPending(ctx) // january -> discovering

	n, err := repo.RecoverStale(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 recovered, got %d", n)
	}

	got, _ := repo.Get(ctx, claimed.Key)
	if got.Status != domain.StatusPending {
		t.Errorf("expected pending after recovery, got %s", got.Status)
	}

	n, err = repo.RecoverStale(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected recovery to be idempotent, got %d", n)
	}
}

func TestActive(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.DB)
	ctx := context.Background()

	for _, m := range []time.Month{time.January, time.February, time.March} {
		if _, err := repo.Upsert(ctx, monthTask(m)); err != nil {
			t.Fatal(err)
		}
	}

	// january -> fetching, february -> partial, march stays pending.
	jan, _ := repo.ClaimPending(ctx)
	_ = repo.MarkDiscovered(ctx, jan.Key, 3, 1200, []int{2, 3})
	feb, _ := repo.ClaimPending(ctx)
	_ = repo.MarkDiscovered(ctx, feb.Key, 2, 600, []int{2})
	_ = repo.SetMissingPages(ctx, feb.Key, []int{2}, domain.StatusPartial)

	active, err := repo.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active tasks, got %d", len(active))
	}
	for _, tk := range active {
		if tk.Status != domain.StatusFetching && tk.Status != domain.StatusPartial {
			t.Errorf("unexpected status %s in active set", tk.Status)
		}
	}
}

func TestList_Filters(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.DB)
	ctx := context.Background()

	if _, err := repo.Upsert(ctx, monthTask(time.January)); err != nil {
		t.Fatal(err)
	}
	other := domain.New("procurements",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		50, "codigoModalidadeContratacao", "6")
	if _, err := repo.Upsert(ctx, other); err != nil {
		t.Fatal(err)
	}

	bySource, err := repo.List(ctx, domain.Filter{Source: "contracts"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(bySource) != 1 || bySource[0].Source != "contracts" {
		t.Errorf("unexpected source filter result: %+v", bySource)
	}

	byStatus, err := repo.List(ctx, domain.Filter{Status: domain.StatusPending})
	if err != nil {
		t.Fatal(err)
	}
	if len(byStatus) != 2 {
		t.Errorf("expected 2 pending tasks, got %d", len(byStatus))
	}

	limited, err := repo.List(ctx, domain.Filter{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("expected 1 task with limit, got %d", len(limited))
	}

	// Param round-trips through the row.
	got, _ := repo.Get(ctx, other.Key)
	if got.ParamName != "codigoModalidadeContratacao" || got.ParamValue != "6" {
		t.Errorf("unexpected param: %s=%s", got.ParamName, got.ParamValue)
	}
}

func TestCountByStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.DB)
	ctx := context.Background()

	for _, m := range []time.Month{time.January, time.February, time.March} {
		if _, err := repo.Upsert(ctx, monthTask(m)); err != nil {
			t.Fatal(err)
		}
	}
	jan, _ := repo.ClaimPending(ctx)
	_ = repo.MarkDiscovered(ctx, jan.Key, 1, 10, nil)

	counts, err := repo.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[domain.StatusPending] != 2 {
		t.Errorf("expected 2 pending, got %d", counts[domain.StatusPending])
	}
	if counts[domain.StatusComplete] != 1 {
		t.Errorf("expected 1 complete, got %d", counts[domain.StatusComplete])
	}
}
