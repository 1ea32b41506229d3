package task

import (
	"context"
	"sync"
	"testing"
	"time"
)

type mockRepo struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

func newMockRepo() *mockRepo {
	return &mockRepo{tasks: make(map[string]*Task)}
}

func (m *mockRepo) Upsert(_ context.Context, t *Task) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.Key]; ok {
		return false, nil
	}
	cp := *t
	m.tasks[t.Key] = &cp
	return true, nil
}

func (m *mockRepo) Get(_ context.Context, key string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[key]
	if !ok {
		return nil, &notFoundErr{}
	}
	cp := *t
	return &cp, nil
}

func (m *mockRepo) List(_ context.Context, f Filter) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Task
	for _, t := range m.tasks {
		if f.Source != "" && t.Source != f.Source {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (m *mockRepo) Active(_ context.Context) ([]Task, error) {
	return m.List(context.Background(), Filter{})
}

func (m *mockRepo) ClaimPending(_ context.Context) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.Status == StatusPending {
			t.Status = StatusDiscovering
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) MarkDiscovered(_ context.Context, key string, totalPages, totalRecords int, missing []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[key]
	t.TotalPages = &totalPages
	t.TotalRecords = &totalRecords
	t.MissingPages = missing
	if len(missing) == 0 {
		t.Status = StatusComplete
	} else {
		t.Status = StatusFetching
	}
	return nil
}

func (m *mockRepo) MarkFetching(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[key]
	if t.Status != StatusPartial {
		return false, nil
	}
	t.Status = StatusFetching
	return true, nil
}

func (m *mockRepo) MarkFailed(_ context.Context, key, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[key]
	t.Status = StatusFailed
	t.LastError = reason
	return nil
}

func (m *mockRepo) SetLastError(_ context.Context, key, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[key].LastError = reason
	return nil
}

func (m *mockRepo) SetMissingPages(_ context.Context, key string, missing []int, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[key]
	t.MissingPages = missing
	t.Status = status
	return nil
}

func (m *mockRepo) RecoverStale(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.tasks {
		if t.Status == StatusDiscovering {
			t.Status = StatusPending
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) CountByStatus(_ context.Context) (map[Status]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[Status]int64)
	for _, t := range m.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

type notFoundErr struct{}

func (e *notFoundErr) Error() string { return "not found" }

func seedTask(t *testing.T, repo *mockRepo, source string, status Status) *Task {
	t.Helper()
	tk := New(source, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), 500, "", "")
	tk.Status = status
	if _, err := repo.Upsert(context.Background(), tk); err != nil {
		t.Fatal(err)
	}
	return tk
}

func TestService_Get(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	tk := seedTask(t, repo, "contracts", StatusPending)

	got, err := svc.Get(context.Background(), GetTaskRequest{Key: tk.Key})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Source != "contracts" {
		t.Errorf("expected contracts, got %s", got.Source)
	}
}

func TestService_Get_EmptyKey(t *testing.T) {
	svc := NewService(newMockRepo())
	_, err := svc.Get(context.Background(), GetTaskRequest{})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestService_List(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	seedTask(t, repo, "contracts", StatusPending)
	seedTask(t, repo, "procurements", StatusComplete)

	tasks, err := svc.List(context.Background(), ListTasksRequest{Source: "contracts"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 1 {
		t.Errorf("expected 1 task, got %d", len(tasks))
	}
}

func TestService_List_InvalidStatus(t *testing.T) {
	svc := NewService(newMockRepo())
	_, err := svc.List(context.Background(), ListTasksRequest{Status: "running"})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestService_Counts(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	seedTask(t, repo, "contracts", StatusPending)
	seedTask(t, repo, "procurements", StatusComplete)

	counts, err := svc.Counts(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts[StatusPending] != 1 || counts[StatusComplete] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}
