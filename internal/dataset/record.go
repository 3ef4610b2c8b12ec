package dataset

import (
	"fmt"
	"log/slog"
	"strings"
)

// Record is a single labeled example: a message text and the display name of
// the user who sent it.
//
// Author is the display name captured at archive time. It is not a stable
// identifier: two users can share a name and a user can rename, in which case
// their rows no longer match by author.
type Record struct {
	Text   string `json:"text"`
	Author string `json:"author"`
}

// Dataset is an ordered list of records. Identical records are distinct
// entries; order is the order they were fetched in and carries no meaning.
type Dataset []Record

// Clone returns a copy that does not share the backing array with d.
func (d Dataset) Clone() Dataset {
	out := make(Dataset, len(d))
	copy(out, d)
	return out
}

// IsValid reports whether both fields are non-empty after trimming.
func IsValid(r Record) bool {
	return strings.TrimSpace(r.Text) != "" && strings.TrimSpace(r.Author) != ""
}

// Policy decides what happens to malformed rows at ingestion boundaries.
type Policy string

const (
	// PolicyKeep retains malformed rows verbatim. They never take part in
	// author matching.
	PolicyKeep Policy = "keep"
	// PolicyDrop discards malformed rows.
	PolicyDrop Policy = "drop"
)

// ParsePolicy converts a configuration value into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyKeep, "":
		return PolicyKeep, nil
	case PolicyDrop:
		return PolicyDrop, nil
	default:
		return "", fmt.Errorf("unknown malformed row policy %q", s)
	}
}

// ValidationWarning describes a malformed row. It is reported, never fatal.
type ValidationWarning struct {
	Row    Record
	Line   int
	Reason string
}

func (w ValidationWarning) Error() string {
	if w.Line > 0 {
		return fmt.Sprintf("malformed row at line %d: %s (text=%q author=%q)", w.Line, w.Reason, w.Row.Text, w.Row.Author)
	}
	return fmt.Sprintf("malformed row: %s (text=%q author=%q)", w.Reason, w.Row.Text, w.Row.Author)
}

func reason(r Record) string {
	switch {
	case strings.TrimSpace(r.Text) == "" && strings.TrimSpace(r.Author) == "":
		return "empty text and author"
	case strings.TrimSpace(r.Text) == "":
		return "empty text"
	default:
		return "empty author"
	}
}

// Validator filters rows at an ingestion boundary.
type Validator struct {
	Policy Policy
	// Warn receives every malformed row. Nil logs through slog.
	Warn func(ValidationWarning)
}

// NewValidator returns a Validator that logs warnings through slog.
func NewValidator(p Policy) Validator {
	return Validator{Policy: p}
}

func (v Validator) warn(w ValidationWarning) {
	if v.Warn != nil {
		v.Warn(w)
		return
	}
	slog.Warn("dataset: "+w.Error(), "policy", string(v.policy()))
}

func (v Validator) policy() Policy {
	if v.Policy == "" {
		return PolicyKeep
	}
	return v.Policy
}

// NormalizeNewlines rewrites CRLF line breaks as LF. The CSV table cannot
// carry a CR before a line break inside a field, so every record entering a
// dataset is normalized to keep save and load exact inverses.
func NormalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// Filter applies the policy to d and returns the surviving rows, with
// newlines normalized. Row numbers in warnings are 1-based positions within d.
func (v Validator) Filter(d Dataset) Dataset {
	out := make(Dataset, 0, len(d))
	for i, r := range d {
		r.Text = NormalizeNewlines(r.Text)
		r.Author = NormalizeNewlines(r.Author)
		if IsValid(r) {
			out = append(out, r)
			continue
		}
		v.warn(ValidationWarning{Row: r, Line: i + 1, Reason: reason(r)})
		if v.policy() == PolicyKeep {
			out = append(out, r)
		}
	}
	return out
}
