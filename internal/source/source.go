package source

import "time"

// Param is a query parameter a source requires on every request. The planner
// expands one task per value.
type Param struct {
	Name   string   `mapstructure:"name" validate:"required"`
	Values []string `mapstructure:"values" validate:"required,min=1,dive,required"`
}

// Source describes one paginated endpoint of the upstream API.
type Source struct {
	Name     string `mapstructure:"name" validate:"required"`
	Path     string `mapstructure:"path" validate:"required,startswith=/"`
	PageSize int    `mapstructure:"page_size" validate:"required,min=1"`
	Param    *Param `mapstructure:"param"`
}

// ParamValues returns the values to expand tasks over. Sources without a
// parameter get a single empty value so callers can range uniformly.
func (s Source) ParamValues() []string {
	if s.Param == nil || len(s.Param.Values) == 0 {
		return []string{""}
	}
	return s.Param.Values
}

func (s Source) ParamName() string {
	if s.Param == nil {
		return ""
	}
	return s.Param.Name
}

type Bucket struct {
	Start time.Time
	End   time.Time
}

// MonthBuckets splits [from, to] into calendar months, clipped to the range.
// The first and last bucket may cover partial months. Both bounds are
// inclusive dates.
func MonthBuckets(from, to time.Time) []Bucket {
	if from.After(to) {
		return nil
	}

	var buckets []Bucket
	for cur := from; !cur.After(to); {
		end := time.Date(cur.Year(), cur.Month()+1, 1, 0, 0, 0, 0, cur.Location()).AddDate(0, 0, -1)
		if end.After(to) {
			end = to
		}
		buckets = append(buckets, Bucket{Start: cur, End: end})
		cur = end.AddDate(0, 0, 1)
	}
	return buckets
}
