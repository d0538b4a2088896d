// Package collector merges the instances discovered by the tag query and the
// auto scaling query into one set keyed by instance id.
package collector

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/ec2-inventory/internal/model"
	"github.com/edvin/ec2-inventory/internal/source"
)

// Source is the instance inventory the collector reads.
type Source interface {
	QueryByTag(ctx context.Context, filter source.TagFilter) ([]string, error)
	QueryAutoScalingMembership(ctx context.Context, groupName string) ([]string, error)
	FetchDetail(ctx context.Context, id string) (model.InstanceRecord, error)
}

// Discovery is one of the two ways instances are found.
type Discovery int

const (
	DiscoverByTag Discovery = iota
	DiscoverByAutoScaling
)

// DefaultOrder runs the tag query first.
var DefaultOrder = []Discovery{DiscoverByTag, DiscoverByAutoScaling}

// Result is the outcome of a collection. Warnings holds one *SourceError per
// failed query or fetch; none of them abort the collection.
type Result struct {
	Instances map[string]model.InstanceRecord
	Warnings  []error
	// Fetches is the number of detail fetches issued.
	Fetches int
}

// Collector discovers instances through both sources and fetches each
// distinct instance's detail exactly once.
type Collector struct {
	logger      zerolog.Logger
	source      Source
	concurrency int
	order       []Discovery
}

// Option configures a Collector.
type Option func(*Collector)

// WithConcurrency bounds the number of detail fetches in flight.
func WithConcurrency(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithOrder sets the order the discovery queries run in. The collected set
// does not depend on it. Duplicates are dropped and discoveries left out run
// afterwards in DefaultOrder, so both queries always run.
func WithOrder(order ...Discovery) Option {
	return func(c *Collector) {
		c.order = completeOrder(order)
	}
}

func completeOrder(order []Discovery) []Discovery {
	seen := map[Discovery]bool{}
	var out []Discovery
	for _, d := range append(append([]Discovery(nil), order...), DefaultOrder...) {
		if seen[d] || (d != DiscoverByTag && d != DiscoverByAutoScaling) {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// New creates a Collector.
func New(logger zerolog.Logger, src Source, opts ...Option) *Collector {
	c := &Collector{
		logger:      logger.With().Str("component", "collector").Logger(),
		source:      src,
		concurrency: 1,
		order:       DefaultOrder,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect runs both discovery queries, then fetches detail once per distinct
// id. An empty groupName skips the auto scaling query.
func (c *Collector) Collect(ctx context.Context, filter source.TagFilter, groupName string) Result {
	var (
		warnings []error
		claimed  = map[string]struct{}{}
		ids      []string
	)
	claim := func(found []string) {
		for _, id := range found {
			if _, ok := claimed[id]; ok {
				continue
			}
			claimed[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	for _, d := range c.order {
		switch d {
		case DiscoverByTag:
			found, err := c.source.QueryByTag(ctx, filter)
			if err != nil {
				warnings = append(warnings, &SourceError{Source: SourceTag, Err: err})
				continue
			}
			claim(found)
		case DiscoverByAutoScaling:
			if groupName == "" {
				continue
			}
			found, err := c.source.QueryAutoScalingMembership(ctx, groupName)
			if err != nil {
				warnings = append(warnings, &SourceError{Source: SourceAutoScaling, Err: err})
				continue
			}
			claim(found)
		}
	}

	instances, fetchWarnings := c.fetchAll(ctx, ids)
	warnings = append(warnings, fetchWarnings...)

	for _, w := range warnings {
		c.logger.Warn().Err(w).Msg("collection warning")
	}
	c.logger.Info().
		Int("discovered", len(ids)).
		Int("collected", len(instances)).
		Int("warnings", len(warnings)).
		Msg("collection complete")

	return Result{Instances: instances, Warnings: warnings, Fetches: len(ids)}
}

type fetchResult struct {
	record model.InstanceRecord
	err    error
}

// fetchAll fetches every id concurrently. Each goroutine owns one slot of
// results; the map is built afterwards by this goroutine alone.
func (c *Collector) fetchAll(ctx context.Context, ids []string) (map[string]model.InstanceRecord, []error) {
	results := make([]fetchResult, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			rec, err := c.source.FetchDetail(gctx, id)
			results[i] = fetchResult{record: rec, err: err}
			return nil
		})
	}
	_ = g.Wait()

	instances := make(map[string]model.InstanceRecord, len(ids))
	var warnings []error
	for i, r := range results {
		if r.err != nil {
			warnings = append(warnings, &SourceError{Source: SourceDetail, ID: ids[i], Err: r.err})
			continue
		}
		instances[ids[i]] = r.record
	}
	return instances, warnings
}
