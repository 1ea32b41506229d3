package task

import "context"

// Service is the read surface of the ledger, used by the status API.
// Lifecycle transitions stay with the pipeline components.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context, req GetTaskRequest) (*Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, req.Key)
}

func (s *Service) List(ctx context.Context, req ListTasksRequest) ([]Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, req.filter())
}

func (s *Service) Counts(ctx context.Context) (map[Status]int64, error) {
	return s.repo.CountByStatus(ctx)
}
