package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"guesser/internal/dataset"
)

// BatchSize is the number of messages requested per fetch. It is part of the
// contract with message sources.
const BatchSize = 100

// Message is one chat message as seen by a Source.
type Message struct {
	ID       int64     `json:"id"`
	AuthorID int64     `json:"author_id"`
	Author   string    `json:"author"`
	IsBot    bool      `json:"is_bot"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
}

// Source pages backward through a chat's history.
//
// Fetch returns up to limit messages with IDs strictly lower than before, or
// the most recent ones when before is 0. An empty batch means there is no
// older history.
type Source interface {
	Fetch(ctx context.Context, before int64, limit int) ([]Message, error)
}

// Pacer throttles fetches. *rate.Limiter satisfies it.
type Pacer interface {
	Wait(ctx context.Context) error
}

// ErrCursorStalled is reported when a source returns a batch that does not
// move the cursor to strictly older messages.
var ErrCursorStalled = errors.New("cursor did not advance")

// FetchError reports a pagination failure. Partial is the number of records
// gathered before the failure; they are discarded.
type FetchError struct {
	Partial int
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch history (%d records gathered): %v", e.Partial, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Archiver turns a chat's history into a dataset.
type Archiver struct {
	pacer     Pacer
	validator dataset.Validator
}

type Option func(*Archiver)

// WithPacer makes the archiver wait on p before every fetch.
func WithPacer(p Pacer) Option {
	return func(a *Archiver) { a.pacer = p }
}

// WithValidator sets how malformed records are handled.
func WithValidator(v dataset.Validator) Option {
	return func(a *Archiver) { a.validator = v }
}

func New(opts ...Option) *Archiver {
	a := &Archiver{validator: dataset.NewValidator(dataset.PolicyKeep)}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Archive pages through src from the newest message backward and returns the
// records of every message written by a human with non-empty text. Records
// keep fetch order, which is not necessarily chronological.
//
// Either the whole history is returned or a *FetchError; a partial dataset is
// never returned.
func (a *Archiver) Archive(ctx context.Context, src Source) (dataset.Dataset, error) {
	out := dataset.Dataset{}
	var (
		cursor  int64
		fetches int
		skipped int
	)
	for {
		if a.pacer != nil {
			if err := a.pacer.Wait(ctx); err != nil {
				return nil, &FetchError{Partial: len(out), Err: err}
			}
		}
		batch, err := src.Fetch(ctx, cursor, BatchSize)
		fetches++
		if err != nil {
			slog.Error("archive: fetch failed", "before", cursor, "gathered", len(out), "err", err)
			return nil, &FetchError{Partial: len(out), Err: err}
		}
		if len(batch) == 0 {
			break
		}

		oldest := batch[0].ID
		recs := make(dataset.Dataset, 0, len(batch))
		for _, m := range batch {
			if m.ID < oldest {
				oldest = m.ID
			}
			if m.IsBot || strings.TrimSpace(m.Text) == "" {
				skipped++
				continue
			}
			slog.Debug("archive: pushing message", "id", m.ID, "author", m.Author)
			recs = append(recs, dataset.Record{Text: m.Text, Author: m.Author})
		}
		out = append(out, a.validator.Filter(recs)...)

		if len(batch) < BatchSize {
			break
		}
		if oldest <= 0 || (cursor != 0 && oldest >= cursor) {
			return nil, &FetchError{Partial: len(out), Err: fmt.Errorf("%w: before=%d oldest=%d", ErrCursorStalled, cursor, oldest)}
		}
		cursor = oldest
	}
	slog.Info("archive: finished", "records", len(out), "skipped", skipped, "fetches", fetches)
	return out, nil
}
