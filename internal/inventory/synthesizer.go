// Package inventory classifies collected instances into role groups,
// assembles the Ansible inventory document, and orchestrates a run: gate,
// cache check, collection, build, store.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/edvin/ec2-inventory/internal/cache"
	"github.com/edvin/ec2-inventory/internal/collector"
	"github.com/edvin/ec2-inventory/internal/config"
	"github.com/edvin/ec2-inventory/internal/metrics"
	"github.com/edvin/ec2-inventory/internal/model"
	"github.com/edvin/ec2-inventory/internal/source"
)

// ErrJumpHostUnreachable is returned when the reachability gate fails. It is
// the only error that aborts a run.
var ErrJumpHostUnreachable = errors.New("jump host unreachable")

// Gate is a precondition checked before anything else.
type Gate interface {
	Check(ctx context.Context) error
}

// SignalSource reports scaling activity for the staleness check.
type SignalSource interface {
	ScalingSignals(ctx context.Context, groupName string) (model.ScalingSignals, error)
}

// Deps are the collaborators of a Synthesizer. Gate and Metrics are optional.
type Deps struct {
	Cache     *cache.Cache
	Collector *collector.Collector
	Signals   SignalSource
	Gate      Gate
	Metrics   *metrics.Metrics
}

// RunOptions adjust a single run.
type RunOptions struct {
	// Refresh skips the cache read; the fresh document is still stored.
	Refresh bool
}

// Synthesizer produces inventory documents.
type Synthesizer struct {
	logger     zerolog.Logger
	deps       Deps
	classifier *Classifier
	builder    *Builder
	names      GroupNames
	filter     source.TagFilter
	groupName  string
}

// NewSynthesizer creates a Synthesizer for the cluster described by cfg.
func NewSynthesizer(logger zerolog.Logger, cfg *config.Config, deps Deps) *Synthesizer {
	names := DefaultGroupNames()
	return &Synthesizer{
		logger:     logger.With().Str("component", "synthesizer").Logger(),
		deps:       deps,
		classifier: NewClassifier([]string{cfg.MasterTag}, []string{cfg.WorkerTag}),
		builder:    NewBuilder(names, VarsFromConfig(cfg)),
		names:      names,
		filter: source.TagFilter{
			ClusterName: cfg.ClusterName,
			RoleValues:  roleValues(cfg.MasterTag, cfg.WorkerTag),
		},
		groupName: cfg.ASGName,
	}
}

// Run returns a valid inventory document: the cached one if it is still
// fresh, otherwise a newly collected one which is then cached. Query, fetch
// and cache failures only produce warnings; a failed gate returns
// ErrJumpHostUnreachable. A document collected while a whole discovery
// query failed is returned but not cached.
func (s *Synthesizer) Run(ctx context.Context, opts RunOptions) (*model.Document, error) {
	start := time.Now()
	report := ReportFrom(ctx)
	report.RunID = uuid.New().String()
	logger := s.logger.With().Str("run_id", report.RunID).Logger()
	ctx = logger.WithContext(ctx)

	if s.deps.Gate != nil {
		if err := s.deps.Gate.Check(ctx); err != nil {
			logger.Error().Err(err).Msg("reachability gate failed")
			return nil, fmt.Errorf("%w: %w", ErrJumpHostUnreachable, err)
		}
	}

	doc, lookup := s.cached(ctx, logger, opts)
	report.Cache = lookup
	if doc != nil {
		report.Hosts = len(doc.HostVars)
		s.deps.Metrics.Synthesized(start)
		return doc, nil
	}

	result := s.deps.Collector.Collect(ctx, s.filter, s.groupName)
	s.deps.Metrics.DetailFetches(result.Fetches)
	var failedQueries []string
	for _, w := range result.Warnings {
		var serr *collector.SourceError
		if !errors.As(w, &serr) {
			continue
		}
		s.deps.Metrics.SourceWarning(serr.Source)
		if serr.Source != collector.SourceDetail {
			failedQueries = append(failedQueries, serr.Source)
		}
	}

	doc, warnings := s.builder.Build(result.Instances, s.classifier)
	for _, w := range warnings {
		logger.Warn().Err(w).Msg("build warning")
		s.deps.Metrics.SourceWarning("build")
	}
	for _, name := range doc.GroupNames() {
		s.deps.Metrics.GroupHosts(name, len(doc.Groups[name].Hosts))
	}
	report.Warnings = len(result.Warnings) + len(warnings)
	report.Hosts = len(doc.HostVars)

	// Staleness signals only cover the auto scaling group, so nothing would
	// invalidate a document missing a whole query's instances.
	if len(failedQueries) > 0 {
		logger.Warn().Strs("failed_queries", failedQueries).Msg("discovery incomplete, inventory not cached")
		s.deps.Metrics.CacheWriteSkipped()
	} else if err := s.deps.Cache.Write(ctx, doc); err != nil {
		logger.Warn().Err(err).Msg("cache write failed")
		s.deps.Metrics.CacheWriteFailed()
	}

	logger.Info().
		Int("control_plane", len(doc.Groups[s.names.ControlPlane].Hosts)).
		Int("worker", len(doc.Groups[s.names.Worker].Hosts)).
		Int("hosts", len(doc.HostVars)).
		Dur("elapsed", time.Since(start)).
		Msg("inventory synthesized")
	s.deps.Metrics.Synthesized(start)
	return doc, nil
}

// cached returns the cached document when it may be served, and the lookup
// result either way.
func (s *Synthesizer) cached(ctx context.Context, logger zerolog.Logger, opts RunOptions) (*model.Document, string) {
	lookup := func(result string) string {
		s.deps.Metrics.CacheLookup(result)
		return result
	}
	if opts.Refresh {
		return nil, lookup(metrics.CacheSkip)
	}
	entry, ok := s.deps.Cache.Read(ctx)
	if !ok {
		return nil, lookup(metrics.CacheMiss)
	}
	var signals cache.SignalFunc
	if s.deps.Signals != nil {
		signals = func(ctx context.Context) (model.ScalingSignals, error) {
			return s.deps.Signals.ScalingSignals(ctx, s.groupName)
		}
	}
	if s.deps.Cache.IsStale(ctx, entry, signals) {
		return nil, lookup(metrics.CacheStale)
	}
	logger.Info().Time("stored_at", entry.StoredAt).Msg("serving cached inventory")
	return entry.Document, lookup(metrics.CacheHit)
}

func roleValues(values ...string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
