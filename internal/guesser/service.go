// Package guesser wires the dataset cache, the archiver and the trainer into
// the operations the bot exposes: archive, remove, retrain and predict.
package guesser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"guesser/internal/analytics"
	"guesser/internal/archive"
	"guesser/internal/dataset"
	"guesser/internal/storage"
	"guesser/internal/trainer"
)

// ErrRetrainRunning is returned when a retrain is requested while another is
// still in progress.
var ErrRetrainRunning = errors.New("a retrain is already running")

// Store is the durable dataset file.
type Store interface {
	storage.Store
	Path() string
}

// Runner starts the external trainer and predictor.
type Runner interface {
	Retrain(ctx context.Context, datasetPath string) (*trainer.Job, error)
	Predict(ctx context.Context, text string) (string, error)
}

type Service struct {
	store    Store
	cache    *dataset.Cache
	archiver *archive.Archiver
	runner   Runner

	jobMu sync.Mutex
	job   *trainer.Job
}

// Open loads the dataset from store and returns a ready service.
func Open(store Store, archiver *archive.Archiver, runner Runner, validator dataset.Validator) (*Service, error) {
	d, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	d = validator.Filter(d)
	if len(d) == 0 {
		slog.Warn("dataset is empty", "path", store.Path())
	}
	return &Service{
		store:    store,
		cache:    dataset.NewCache(d, store),
		archiver: archiver,
		runner:   runner,
	}, nil
}

// DatasetPath is where the dataset table is stored.
func (s *Service) DatasetPath() string { return s.store.Path() }

// Dataset returns a read-only snapshot of the current dataset.
func (s *Service) Dataset() dataset.Dataset { return s.cache.Snapshot() }

// Archive fetches the full history from src and makes it the dataset. The
// mutation token is held from the first fetch until the new dataset is
// persisted, so a removal issued meanwhile waits and applies to the fresh
// dataset. Nothing is persisted if the fetch fails.
func (s *Service) Archive(ctx context.Context, src archive.Source) (int, error) {
	slog.Info("archive command commencing")
	var n int
	err := s.cache.Mutate(ctx, func(cur dataset.Dataset) (dataset.Dataset, bool, error) {
		fresh, err := s.archiver.Archive(ctx, src)
		if err != nil {
			return nil, false, err
		}
		slog.Info("archive command finished, saving", "records", len(fresh))
		next := dataset.Replace(cur, fresh)
		n = len(next)
		return next, true, nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// RemoveAuthor deletes every record written by author and persists the
// result. It returns how many records were removed.
func (s *Service) RemoveAuthor(ctx context.Context, author string) (int, error) {
	slog.Info("attempting to remove user", "author", author)
	return s.cache.RemoveByAuthor(ctx, author)
}

// Retrain starts the trainer on the dataset file. Only one retrain runs at a
// time.
func (s *Service) Retrain(ctx context.Context) (*trainer.Job, error) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if s.job != nil {
		select {
		case <-s.job.Done():
		default:
			return nil, ErrRetrainRunning
		}
	}
	job, err := s.runner.Retrain(ctx, s.store.Path())
	if err != nil {
		return nil, fmt.Errorf("start retrain: %w", err)
	}
	s.job = job
	return job, nil
}

// Predict asks the predictor who most likely wrote text.
func (s *Service) Predict(ctx context.Context, text string) (string, error) {
	return s.runner.Predict(ctx, text)
}

// Stats summarises a snapshot of the dataset.
func (s *Service) Stats() *analytics.Stats {
	return analytics.Summarize(s.cache.Snapshot())
}
