package attempt

import "context"

// Service exposes the attempt log to the status API.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, req ListAttemptsRequest) ([]Attempt, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListByTask(ctx, req.TaskKey, req.Limit)
}
