package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"guesser/internal/dataset"
)

// File is a dataset stored as a CSV table at a fixed path.
type File struct {
	path string
	cols Columns
	mu   sync.Mutex
}

func NewFile(path string, cols Columns) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure dataset dir: %w", err)
	}
	if cols.Text == "" {
		cols.Text = DefaultColumns.Text
	}
	if cols.Author == "" {
		cols.Author = DefaultColumns.Author
	}
	return &File{path: path, cols: cols}, nil
}

// Path returns the location of the dataset file.
func (f *File) Path() string { return f.path }

func (f *File) Load() (dataset.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Load(f.path, f.cols)
}

func (f *File) Save(d dataset.Dataset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Save(f.path, f.cols, d)
}

// Load reads the table at path. A missing or empty file yields an empty
// dataset. Rows with the wrong number of fields, or that cannot be parsed,
// are skipped with a warning.
func Load(path string, cols Columns) (dataset.Dataset, error) {
	fh, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("dataset file not found, starting with an empty dataset", "path", path)
			return dataset.Dataset{}, nil
		}
		return nil, &StoreError{Op: "load", Path: path, Err: err}
	}
	defer func(fh *os.File) {
		if err := fh.Close(); err != nil {
			slog.Warn("close dataset file", "path", path, "err", err)
		}
	}(fh)

	r := csv.NewReader(fh)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			slog.Warn("dataset file is empty", "path", path)
			return dataset.Dataset{}, nil
		}
		return nil, &StoreError{Op: "load", Path: path, Err: fmt.Errorf("read header: %w", err)}
	}
	ti, ai := headerIndex(header, cols)
	if ti < 0 || ai < 0 {
		return nil, &StoreError{Op: "load", Path: path, Err: fmt.Errorf("%w: want %q and %q, got %q", ErrHeader, cols.Text, cols.Author, header)}
	}

	out := dataset.Dataset{}
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				slog.Warn("skipping unparsable dataset row", "path", path, "line", perr.StartLine, "err", perr.Err)
				continue
			}
			return nil, &StoreError{Op: "load", Path: path, Err: err}
		}
		if len(row) != len(header) {
			line, _ := r.FieldPos(0)
			slog.Warn("skipping dataset row with wrong column count", "path", path, "line", line, "want", len(header), "got", len(row))
			continue
		}
		out = append(out, dataset.Record{Text: row[ti], Author: row[ai]})
	}
	slog.Info("dataset loaded", "path", path, "entries", len(out))
	return out, nil
}

func headerIndex(header []string, cols Columns) (text, author int) {
	find := func(names ...string) int {
		for _, n := range names {
			for i, h := range header {
				h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
				if strings.EqualFold(h, n) {
					return i
				}
			}
		}
		return -1
	}
	text = find(append([]string{cols.Text}, textAliases...)...)
	author = find(append([]string{cols.Author}, authorAliases...)...)
	if text == author {
		return -1, -1
	}
	return text, author
}

// Save writes d to path as a full replacement. The table is written to a
// temporary file in the same directory and renamed over path, so readers see
// either the old or the new table.
func Save(path string, cols Columns, d dataset.Dataset) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &StoreError{Op: "save", Path: path, Err: err}
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &StoreError{Op: "save", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return &StoreError{Op: "save", Path: path, Err: err}
	}

	w := csv.NewWriter(tmp)
	if err := w.Write([]string{cols.Text, cols.Author}); err != nil {
		return fail(fmt.Errorf("write header: %w", err))
	}
	for _, rec := range d {
		if err := w.Write([]string{rec.Text, rec.Author}); err != nil {
			return fail(fmt.Errorf("write row: %w", err))
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fail(fmt.Errorf("flush: %w", err))
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return &StoreError{Op: "save", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return &StoreError{Op: "save", Path: path, Err: err}
	}
	slog.Info("dataset saved", "path", path, "entries", len(d))
	return nil
}
