package attempt

import "github.com/franklinbaldo/baliza-sub001/internal/apperror"

type ListAttemptsRequest struct {
	TaskKey string
	Limit   int
}

func (r ListAttemptsRequest) Validate() *apperror.AppError {
	if r.TaskKey == "" {
		return apperror.New(apperror.BadRequest, "task query parameter is required")
	}
	if r.Limit < 0 {
		return apperror.New(apperror.BadRequest, "limit must not be negative")
	}
	return nil
}
