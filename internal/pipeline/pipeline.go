package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/xiaot623/fedchat/internal/store"
)

// CheckpointName keys the last processed publication date.
const CheckpointName = "last_processed_date"

// maxRange caps how far back a run starts.
const maxRange = 30 * 24 * time.Hour

// Fetcher downloads the documents of one publication day.
type Fetcher interface {
	FetchDay(ctx context.Context, day time.Time) ([]store.Document, error)
}

// Database is the part of the document store a pipeline writes to.
type Database interface {
	UpsertDocuments(ctx context.Context, docs []store.Document) (store.UpsertResult, error)
	Checkpoint(ctx context.Context, name string) (string, bool, error)
	SaveCheckpoint(ctx context.Context, name, value string) error
}

// Summary counts the effect of a multi-day run.
type Summary struct {
	DaysProcessed    int `json:"days_processed"`
	DocumentsAdded   int `json:"documents_added"`
	DocumentsUpdated int `json:"documents_updated"`
	Errors           int `json:"errors"`
}

// DayResult is the effect of loading a single day.
type DayResult struct {
	Date       string `json:"date"`
	Downloaded int    `json:"downloaded"`
	store.UpsertResult
}

// Pipeline downloads days of documents into the database and remembers the
// last processed day.
type Pipeline struct {
	fetcher Fetcher
	db      Database
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates a pipeline.
func New(fetcher Fetcher, db Database, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		fetcher: fetcher,
		db:      db,
		logger:  logger.With().Str("component", "pipeline").Logger(),
		now:     time.Now,
	}
}

// ParseDay parses a YYYY-MM-DD date. An empty string is today.
func (p *Pipeline) ParseDay(s string) (time.Time, error) {
	if s == "" {
		return truncateDay(p.now()), nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, errors.Errorf("invalid date format: %s, use YYYY-MM-DD", s)
	}
	return t, nil
}

// RunDay loads the documents published on day and moves the checkpoint to it.
func (p *Pipeline) RunDay(ctx context.Context, day time.Time) (DayResult, error) {
	res := DayResult{Date: day.Format(DateLayout)}
	docs, err := p.fetcher.FetchDay(ctx, day)
	if err != nil {
		return res, err
	}
	res.Downloaded = len(docs)

	if len(docs) > 0 {
		up, err := p.db.UpsertDocuments(ctx, docs)
		if err != nil {
			return res, err
		}
		res.UpsertResult = up
	}
	if err := p.db.SaveCheckpoint(ctx, CheckpointName, res.Date); err != nil {
		return res, err
	}
	p.logger.Info().Str("date", res.Date).Int("downloaded", res.Downloaded).
		Int("added", res.Added).Int("updated", res.Updated).Msg("day processed")
	return res, nil
}

// Run loads every day from daysBack days ago through today. A checkpoint
// inside that window moves the start forward so finished days are skipped,
// except the checkpoint day itself which is fetched again. A failed day is
// counted and the run carries on.
func (p *Pipeline) Run(ctx context.Context, daysBack int) (Summary, error) {
	var sum Summary
	end := truncateDay(p.now())
	if daysBack < 0 {
		daysBack = 0
	}
	start := end.AddDate(0, 0, -daysBack)
	if earliest := end.Add(-maxRange); start.Before(earliest) {
		start = earliest
	}

	last, ok, err := p.db.Checkpoint(ctx, CheckpointName)
	if err != nil {
		return sum, err
	}
	if ok {
		if t, err := time.Parse(DateLayout, last); err == nil && t.After(start) && !t.After(end) {
			start = t
		} else if err != nil {
			p.logger.Warn().Str("checkpoint", last).Msg("ignoring unreadable checkpoint")
		}
	}

	p.logger.Info().Str("start", start.Format(DateLayout)).Str("end", end.Format(DateLayout)).Msg("running pipeline")
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res, err := p.RunDay(ctx, day)
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			sum.Errors++
			p.logger.Error().Err(err).Str("date", res.Date).Msg("failed to process day")
			continue
		}
		sum.DaysProcessed++
		sum.DocumentsAdded += res.Added
		sum.DocumentsUpdated += res.Updated
	}
	p.logger.Info().Int("days", sum.DaysProcessed).Int("added", sum.DocumentsAdded).
		Int("updated", sum.DocumentsUpdated).Int("errors", sum.Errors).Msg("pipeline completed")
	return sum, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
