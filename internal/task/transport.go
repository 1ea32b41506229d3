package task

import "github.com/franklinbaldo/baliza-sub001/internal/apperror"

type GetTaskRequest struct {
	Key string
}

func (r GetTaskRequest) Validate() *apperror.AppError {
	if r.Key == "" {
		return apperror.New(apperror.BadRequest, "task key is required")
	}
	return nil
}

type ListTasksRequest struct {
	Source string
	Status string
	Limit  int
}

func (r ListTasksRequest) Validate() *apperror.AppError {
	if r.Status != "" && !Status(r.Status).Valid() {
		return apperror.New(apperror.BadRequest, "invalid status filter")
	}
	if r.Limit < 0 {
		return apperror.New(apperror.BadRequest, "limit must not be negative")
	}
	return nil
}

func (r ListTasksRequest) filter() Filter {
	return Filter{
		Source: r.Source,
		Status: Status(r.Status),
		Limit:  r.Limit,
	}
}
