package inventory

import "context"

// Report describes how a run produced its document. Callers that want it
// attach one to the context with WithReport; Run fills it in.
type Report struct {
	RunID string
	// Cache is the lookup result: hit, miss, stale or skipped. Empty when
	// the run stopped at the gate.
	Cache    string
	Warnings int
	Hosts    int
}

type reportKey struct{}

// WithReport returns a context carrying r.
func WithReport(ctx context.Context, r *Report) context.Context {
	return context.WithValue(ctx, reportKey{}, r)
}

// ReportFrom returns the report attached to ctx, or a throwaway one.
func ReportFrom(ctx context.Context) *Report {
	if r, ok := ctx.Value(reportKey{}).(*Report); ok && r != nil {
		return r
	}
	return &Report{}
}
