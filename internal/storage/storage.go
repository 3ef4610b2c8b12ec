package storage

import (
	"errors"
	"fmt"

	"guesser/internal/dataset"
)

// Store loads and saves the whole dataset.
// Load of a missing file yields an empty dataset, not an error.
// Save replaces the stored table; readers never observe a partial write.
// Implementations must be safe for concurrent use.
type Store interface {
	Load() (dataset.Dataset, error)
	Save(d dataset.Dataset) error
}

// ErrHeader is returned when the header row lacks the configured columns.
var ErrHeader = errors.New("header does not name the text and author columns")

// StoreError reports a failed load or save of a dataset file.
type StoreError struct {
	Op   string // "load" or "save"
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Columns names the header of the two dataset columns.
type Columns struct {
	Text   string
	Author string
}

// DefaultColumns matches what the training script reads.
var DefaultColumns = Columns{Text: "text", Author: "username"}

var (
	textAliases   = []string{"text", "message"}
	authorAliases = []string{"username", "author"}
)
