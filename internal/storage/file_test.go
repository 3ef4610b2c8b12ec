package storage

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"guesser/internal/dataset"
)

func sorted(d dataset.Dataset) dataset.Dataset {
	out := d.Clone()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Author != out[j].Author {
			return out[i].Author < out[j].Author
		}
		return out[i].Text < out[j].Text
	})
	return out
}

func equalUnordered(t *testing.T, want, got dataset.Dataset) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("want %d rows, got %d: %+v", len(want), len(got), got)
	}
	w, g := sorted(want), sorted(got)
	for i := range w {
		if w[i] != g[i] {
			t.Fatalf("row %d: want %+v, got %+v", i, w[i], g[i])
		}
	}
}

func TestFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(filepath.Join(dir, "data", "dataset.csv"), DefaultColumns)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	d := dataset.Dataset{
		{Text: "a,\"b\"\nc", Author: "bob"},
		{Text: "plain", Author: "alice"},
		{Text: "plain", Author: "alice"},
		{Text: " leading space", Author: "carol, jr"},
		{Text: "\"quoted\"", Author: "dave\"o"},
		{Text: "multi\n\nline\n", Author: "eve"},
		{Text: "юникод 🙂", Author: "фёдор"},
		{Text: "", Author: "malformed"},
		{Text: "line one\r\nline two", Author: "bob"},
		{Text: "lone\rcarriage return", Author: "bob"},
	}
	// records only enter a dataset through the validator
	d = dataset.NewValidator(dataset.PolicyKeep).Filter(d)
	if err := f.Save(d); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := f.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	equalUnordered(t, d, got)
}

func TestLoad_ScenarioQuotedNewline(t *testing.T) {
	p := filepath.Join(t.TempDir(), "ds.csv")
	in := dataset.Dataset{{Text: "a,\"b\"\nc", Author: "bob"}}
	if err := Save(p, DefaultColumns, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, _ := os.ReadFile(p)
	if string(raw) != "text,username\n\"a,\"\"b\"\"\nc\",bob\n" {
		t.Fatalf("unexpected encoding: %q", raw)
	}
	out, err := Load(p, DefaultColumns)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 1 || out[0] != in[0] {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	logs := captureLogs(t)
	d, err := Load(filepath.Join(t.TempDir(), "absent.csv"), DefaultColumns)
	if err != nil {
		t.Fatalf("want no error, got %v", err)
	}
	if d == nil || len(d) != 0 {
		t.Fatalf("want empty dataset, got %+v", d)
	}
	out := logs.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "dataset file not found") {
		t.Fatalf("want a warning about the missing file, got %q", out)
	}
}

func TestLoad_SkipsBadRowsAndMapsHeaders(t *testing.T) {
	p := filepath.Join(t.TempDir(), "ds.csv")
	content := "username,message\n" +
		"alice,hello\n" +
		"only-one-field\n" +
		"bob,hi,extra\n" +
		"carol,\"quoted, text\"\n" +
		",no author\n"
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	d, err := Load(p, Columns{Text: "message", Author: "username"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := dataset.Dataset{
		{Text: "hello", Author: "alice"},
		{Text: "quoted, text", Author: "carol"},
		{Text: "no author", Author: ""},
	}
	equalUnordered(t, want, d)
}

func TestLoad_HeaderAliases(t *testing.T) {
	p := filepath.Join(t.TempDir(), "ds.csv")
	if err := os.WriteFile(p, []byte("\ufeffText,Username\nhi,alice\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	d, err := Load(p, Columns{Text: "body", Author: "who"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(d) != 1 || d[0] != (dataset.Record{Text: "hi", Author: "alice"}) {
		t.Fatalf("unexpected: %+v", d)
	}
}

func TestLoad_BadHeader(t *testing.T) {
	p := filepath.Join(t.TempDir(), "ds.csv")
	if err := os.WriteFile(p, []byte("foo,bar\n1,2\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(p, DefaultColumns)
	var se *StoreError
	if !errors.As(err, &se) || se.Op != "load" || se.Path != p {
		t.Fatalf("want load StoreError, got %v", err)
	}
	if !errors.Is(err, ErrHeader) {
		t.Fatalf("want ErrHeader, got %v", err)
	}
}

func TestSave_ReplacesAndLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "ds.csv")
	if err := Save(p, DefaultColumns, dataset.Dataset{{Text: "a", Author: "x"}, {Text: "b", Author: "y"}}); err != nil {
		t.Fatalf("save1: %v", err)
	}
	if err := Save(p, DefaultColumns, dataset.Dataset{{Text: "c", Author: "z"}}); err != nil {
		t.Fatalf("save2: %v", err)
	}
	d, err := Load(p, DefaultColumns)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(d) != 1 || d[0].Text != "c" {
		t.Fatalf("save is not a full replace: %+v", d)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestSave_ErrorCarriesOpAndPath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p := filepath.Join(blocker, "ds.csv")
	err := Save(p, DefaultColumns, nil)
	var se *StoreError
	if !errors.As(err, &se) || se.Op != "save" || se.Path != p {
		t.Fatalf("want save StoreError, got %v", err)
	}
}
