// Package pipeline provides the orchestration that turns a SearchSpec
// into a SearchResult: driving the portal client across countries and
// pages, deduplicating, aggregating statistics, and optionally enriching
// records with detail payloads.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lgomes/patentscope-api/internal/patents"
	"github.com/lgomes/patentscope-api/internal/source"
)

// Recorder receives task lifecycle updates from a run. *tasks.Registry
// satisfies it.
type Recorder interface {
	Start(taskID string)
	UpdateProgress(taskID, text string)
	Complete(taskID string, result *patents.SearchResult)
	Fail(taskID, message string)
}

// SourceFactory opens a fresh portal session for one task run. Sessions
// are per-task so authenticated state and pagination cursors never leak
// across concurrent searches.
type SourceFactory func(useLogin bool) source.Client

// ResultSink persists a completed result outside the task registry.
// Sink failures are logged and never fail the task.
type ResultSink interface {
	WriteResult(taskID string, result *patents.SearchResult) (string, error)
}

// Options configures a Runner.
type Options struct {
	NewSource SourceFactory
	// Sink is optional; nil disables artifact dumping.
	Sink ResultSink
	// CallTimeout bounds each portal call so a stuck portal cannot keep
	// a task out of a terminal state forever. Defaults to 60s.
	CallTimeout time.Duration
	Logger      zerolog.Logger
}

// Runner executes search tasks.
type Runner struct {
	opts Options
}

// NewRunner builds a Runner.
func NewRunner(opts Options) *Runner {
	if opts.CallTimeout == 0 {
		opts.CallTimeout = 60 * time.Second
	}
	return &Runner{opts: opts}
}

// Run executes the search bound to taskID and drives rec through the
// task's lifecycle. It always leaves the task in a terminal state.
func (r *Runner) Run(ctx context.Context, rec Recorder, taskID string, spec patents.SearchSpec) {
	log := r.opts.Logger.With().Str("task_id", taskID).Str("term", spec.Term).Logger()
	started := time.Now()

	rec.Start(taskID)
	rec.UpdateProgress(taskID, "Initializing portal session...")

	client := r.opts.NewSource(spec.UseLogin)
	if closer, ok := client.(interface{ Close() }); ok {
		defer closer.Close()
	}

	hits, err := r.collect(ctx, rec, client, taskID, spec, log)
	if err != nil {
		rec.Fail(taskID, err.Error())
		return
	}

	unique := patents.Deduplicate(hits)
	if len(unique) > spec.Limit {
		unique = unique[:spec.Limit]
	}
	stats := patents.Aggregate(unique, patents.DefaultTopN)
	log.Info().Int("total_found", len(hits)).Int("total_unique", len(unique)).Msg("deduplication done")

	if spec.GetDetails && len(unique) > 0 {
		r.enrich(ctx, rec, client, taskID, spec, unique, log)
	}

	result := &patents.SearchResult{
		SearchInfo: patents.SearchInfo{
			Term:       spec.Term,
			Limit:      spec.Limit,
			Countries:  spec.Countries,
			UseLogin:   spec.UseLogin,
			GetDetails: spec.GetDetails,
			MaxDetails: spec.MaxDetails,
			SearchedAt: started.UTC(),
			Elapsed:    time.Since(started).Round(time.Millisecond).String(),
		},
		TotalFound:  len(hits),
		TotalUnique: len(unique),
		Statistics:  stats,
		Patents:     unique,
	}

	if r.opts.Sink != nil {
		if path, err := r.opts.Sink.WriteResult(taskID, result); err != nil {
			log.Warn().Err(err).Msg("failed to write result artifact")
		} else {
			log.Info().Str("path", path).Msg("result artifact written")
		}
	}

	rec.UpdateProgress(taskID, fmt.Sprintf("Found %d unique patents", len(unique)))
	rec.Complete(taskID, result)
}

// collect drives the country/page traversal and accumulates raw hits in
// traversal order, up to the spec's global limit.
//
// A country whose searches fail is skipped and the traversal continues;
// the task as a whole fails only when every country failed and nothing
// was collected, so a dead portal surfaces as a failed task rather than
// an empty result.
func (r *Runner) collect(ctx context.Context, rec Recorder, client source.Client, taskID string, spec patents.SearchSpec, log zerolog.Logger) ([]patents.RawHit, error) {
	countries := spec.Countries
	if len(countries) == 0 {
		countries = patents.DefaultCountries
	}

	var (
		hits      []patents.RawHit
		attempted int
		failed    int
		lastErr   error
	)

	for _, country := range countries {
		if len(hits) >= spec.Limit {
			break
		}
		attempted++
		rec.UpdateProgress(taskID, fmt.Sprintf("Searching in %s...", country))

		collected, err := r.searchCountry(ctx, client, country, spec, len(hits))
		hits = append(hits, collected...)
		if err != nil {
			failed++
			lastErr = err
			log.Warn().Err(err).Str("country", country).
				Str("kind", string(source.KindOf(err))).
				Msg("country search failed, moving on")
			continue
		}
		log.Info().Str("country", country).Int("hits", len(collected)).Msg("country search done")
	}

	// Fatal only when every attempted country failed and nothing was
	// collected; isolated per-country failures degrade to a smaller
	// result set instead.
	if len(hits) == 0 && failed == attempted && failed > 0 {
		return nil, fmt.Errorf("search failed in all %d countries, last error: %s",
			failed, describeSourceError(lastErr))
	}
	if len(hits) > spec.Limit {
		hits = hits[:spec.Limit]
	}
	return hits, nil
}

// searchCountry paginates one country until the portal runs out of pages
// or the global raw-hit budget is spent. Hits gathered before a paging
// error are kept.
func (r *Runner) searchCountry(ctx context.Context, client source.Client, country string, spec patents.SearchSpec, have int) ([]patents.RawHit, error) {
	var collected []patents.RawHit
	for page := 1; ; page++ {
		result, err := r.searchPage(ctx, client, spec.Term, country, page)
		if err != nil {
			return collected, err
		}
		collected = append(collected, result.Hits...)
		if !result.HasMore || len(result.Hits) == 0 {
			return collected, nil
		}
		if have+len(collected) >= spec.Limit {
			return collected, nil
		}
	}
}

// searchPage performs one bounded portal call. A timeout becomes a
// transport-kind error so a stuck portal is indistinguishable from an
// unreachable one.
func (r *Runner) searchPage(ctx context.Context, client source.Client, term, country string, page int) (*source.Page, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()

	result, err := client.Search(callCtx, term, country, page)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, &source.Error{
			Kind:    source.KindTransport,
			Op:      "pipeline.search",
			Message: fmt.Sprintf("portal call timed out after %s", r.opts.CallTimeout),
			Cause:   err,
		}
	}
	return result, err
}

// enrich fetches detail payloads for the leading records of the unique
// set, in result order. Per-record failures are recorded on the record
// and never abort the task.
func (r *Runner) enrich(ctx context.Context, rec Recorder, client source.Client, taskID string, spec patents.SearchSpec, unique []patents.PatentRecord, log zerolog.Logger) {
	count := len(unique)
	if spec.MaxDetails > 0 && spec.MaxDetails < count {
		count = spec.MaxDetails
	}

	for i := 0; i < count; i++ {
		rec.UpdateProgress(taskID, fmt.Sprintf("Retrieving details %d/%d...", i+1, count))

		callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
		detail, err := client.FetchDetail(callCtx, unique[i].PublicationNumber)
		cancel()
		if err != nil {
			unique[i].DetailError = describeSourceError(err)
			log.Warn().Err(err).Str("publication_number", unique[i].PublicationNumber).
				Msg("detail fetch failed for record")
			continue
		}
		unique[i].Detail = detail
	}
}

// describeSourceError renders a portal failure for user-visible fields
// without leaking transport internals.
func describeSourceError(err error) string {
	var serr *source.Error
	if errors.As(err, &serr) {
		return fmt.Sprintf("%s error: %s", serr.Kind, serr.Message)
	}
	return err.Error()
}
