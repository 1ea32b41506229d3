package task

import (
	"fmt"
	"time"
)

const dateFormat = "2006-01-02"

// Task is one unit of extraction work: every page of one source for one
// date bucket (and one parameter value, for sources that require it).
type Task struct {
	Key          string    `json:"key"`
	Source       string    `json:"source"`
	BucketStart  time.Time `json:"bucketStart"`
	BucketEnd    time.Time `json:"bucketEnd"`
	ParamName    string    `json:"paramName,omitempty"`
	ParamValue   string    `json:"paramValue,omitempty"`
	PageSize     int       `json:"pageSize"`
	Status       Status    `json:"status"`
	TotalPages   *int      `json:"totalPages"`
	TotalRecords *int      `json:"totalRecords"`
	MissingPages []int     `json:"missingPages"`
	LastError    string    `json:"lastError,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func New(source string, bucketStart, bucketEnd time.Time, pageSize int, paramName, paramValue string) *Task {
	return &Task{
		Key:         Key(source, bucketStart, paramName, paramValue),
		Source:      source,
		BucketStart: bucketStart,
		BucketEnd:   bucketEnd,
		ParamName:   paramName,
		ParamValue:  paramValue,
		PageSize:    pageSize,
		Status:      StatusPending,
	}
}

// Key is the natural identity of a task. Planning the same window twice
// yields the same key, which is what makes re-planning a no-op.
func Key(source string, bucketStart time.Time, paramName, paramValue string) string {
	if paramName == "" {
		return fmt.Sprintf("%s:%s", source, bucketStart.Format(dateFormat))
	}
	return fmt.Sprintf("%s:%s:%s=%s", source, bucketStart.Format(dateFormat), paramName, paramValue)
}

func (t *Task) HasParam() bool {
	return t.ParamName != ""
}
