package collector

import "fmt"

// Source names used in SourceError.
const (
	SourceTag         = "tag-query"
	SourceAutoScaling = "auto-scaling"
	SourceDetail      = "detail"
)

// SourceError is a non-fatal failure of one query. The collection continues
// without the failing source or instance.
type SourceError struct {
	Source string
	// ID is set for detail fetch failures.
	ID  string
	Err error
}

func (e *SourceError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %v", e.Source, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}
