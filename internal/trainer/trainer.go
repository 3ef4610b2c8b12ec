package trainer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Command is an external program and its leading arguments.
type Command struct {
	Path string
	Args []string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

type EventKind int

const (
	EventOutput EventKind = iota
	EventError
	EventCompleted
)

func (k EventKind) String() string {
	switch k {
	case EventOutput:
		return "output"
	case EventError:
		return "error"
	case EventCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Event is one observation of a running job. ExitCode is only set on
// EventCompleted.
type Event struct {
	Kind     EventKind
	Chunk    string
	ExitCode int
}

const eventBuffer = 64

// Job is a running (or finished) training process.
type Job struct {
	ID        string
	Command   string
	StartedAt time.Time

	events chan Event
	done   chan struct{}

	mu       sync.Mutex
	stdout   bytes.Buffer
	stderr   bytes.Buffer
	exitCode int
	err      error
}

// Events delivers output and error chunks followed by exactly one
// EventCompleted, then is closed. Chunks are dropped from the channel when
// the consumer falls behind (they stay available through Output); the
// completion event is never dropped.
func (j *Job) Events() <-chan Event { return j.events }

// Done is closed when the process has exited.
func (j *Job) Done() <-chan struct{} { return j.done }

// Output returns everything written to stdout so far.
func (j *Job) Output() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stdout.String()
}

// Wait blocks until the job finishes or ctx is done. A non-zero exit yields
// a *ProcessError.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	if j.exitCode != 0 {
		return &ProcessError{Name: j.Command, ExitCode: j.exitCode, Stderr: j.stderr.String()}
	}
	return nil
}

func (j *Job) emit(ev Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch ev.Kind {
	case EventOutput:
		j.stdout.WriteString(ev.Chunk)
	case EventError:
		j.stderr.WriteString(ev.Chunk)
	}
	// keep one slot free for EventCompleted
	if ev.Kind != EventCompleted && len(j.events) >= cap(j.events)-1 {
		return
	}
	select {
	case j.events <- ev:
	default:
	}
}

func (j *Job) pump(r io.Reader, kind EventKind) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			if kind == EventOutput {
				slog.Info("trainer: model output", "job", j.ID, "chunk", strings.TrimRight(chunk, "\n"))
			} else {
				slog.Warn("trainer: model error output", "job", j.ID, "chunk", strings.TrimRight(chunk, "\n"))
			}
			j.emit(Event{Kind: kind, Chunk: chunk})
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Warn("trainer: read output", "job", j.ID, "err", err)
			}
			return
		}
	}
}

// Runner starts the trainer and predictor programs.
type Runner struct {
	train   Command
	predict Command
	start   Starter
}

type Option func(*Runner)

// WithStarter replaces how processes are launched.
func WithStarter(s Starter) Option {
	return func(r *Runner) { r.start = s }
}

func NewRunner(train, predict Command, opts ...Option) *Runner {
	r := &Runner{train: train, predict: predict, start: ExecStarter}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Retrain launches the trainer against datasetPath and returns without
// waiting for it. The path is passed as the last argument and as $DATASET.
// Failures are reported through the job, never retried.
func (r *Runner) Retrain(ctx context.Context, datasetPath string) (*Job, error) {
	args := append(append([]string{}, r.train.Args...), datasetPath)
	proc, err := r.start(ctx, r.train.Path, args, []string{"DATASET=" + datasetPath})
	if err != nil {
		return nil, err
	}
	j := &Job{
		ID:        uuid.NewString(),
		Command:   r.train.String(),
		StartedAt: time.Now(),
		events:    make(chan Event, eventBuffer),
		done:      make(chan struct{}),
	}
	slog.Info("trainer: retraining model", "job", j.ID, "command", j.Command, "dataset", datasetPath)

	go func() {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); j.pump(proc.Stdout(), EventOutput) }()
		go func() { defer wg.Done(); j.pump(proc.Stderr(), EventError) }()
		wg.Wait()

		code, err := proc.Wait()
		j.mu.Lock()
		j.exitCode, j.err = code, err
		j.mu.Unlock()
		switch {
		case err != nil:
			slog.Error("trainer: wait failed", "job", j.ID, "err", err)
		case code == 0:
			slog.Info("trainer: model retrained successfully", "job", j.ID, "took", time.Since(j.StartedAt).Round(time.Millisecond))
		default:
			slog.Error("trainer: retrain process failed", "job", j.ID, "exit_code", code)
		}
		j.emit(Event{Kind: EventCompleted, ExitCode: code})
		close(j.done)
		close(j.events)
	}()
	return j, nil
}

// Predict runs the predictor on text and returns its trimmed stdout.
func (r *Runner) Predict(ctx context.Context, text string) (string, error) {
	args := append(append([]string{}, r.predict.Args...), text)
	proc, err := r.start(ctx, r.predict.Path, args, nil)
	if err != nil {
		return "", err
	}
	var stdout, stderr bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _, _ = io.Copy(&stdout, proc.Stdout()) }()
	go func() { defer wg.Done(); _, _ = io.Copy(&stderr, proc.Stderr()) }()
	wg.Wait()

	code, err := proc.Wait()
	if err != nil {
		return "", err
	}
	if stderr.Len() > 0 {
		slog.Warn("trainer: predictor error output", "stderr", strings.TrimSpace(stderr.String()))
	}
	if code != 0 {
		return "", &ProcessError{Name: r.predict.String(), ExitCode: code, Stderr: stderr.String()}
	}
	return strings.TrimSpace(stdout.String()), nil
}
