package dataset

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestIsValid(t *testing.T) {
	cases := []struct {
		rec  Record
		want bool
	}{
		{Record{Text: "hi", Author: "alice"}, true},
		{Record{Text: "  hi ", Author: " alice"}, true},
		{Record{Text: "", Author: "alice"}, false},
		{Record{Text: "hi", Author: "   "}, false},
		{Record{}, false},
	}
	for _, c := range cases {
		if got := IsValid(c.rec); got != c.want {
			t.Fatalf("IsValid(%+v): want %v, got %v", c.rec, c.want, got)
		}
	}
}

func TestRemoveByAuthor_Scenario(t *testing.T) {
	out, n := RemoveByAuthor(Dataset{{Text: "hi", Author: "alice"}}, "alice")
	if n != 1 || len(out) != 0 {
		t.Fatalf("want ([], 1), got (%+v, %d)", out, n)
	}
}

func sample() Dataset {
	return Dataset{
		{Text: "hi", Author: "alice"},
		{Text: "hello", Author: " alice "},
		{Text: "yo", Author: "bob"},
		{Text: "hi", Author: "alice"},
		{Text: "", Author: "alice"},
		{Text: "orphan", Author: ""},
		{Text: "case", Author: "Alice"},
	}
}

func TestRemoveByAuthor_Correctness(t *testing.T) {
	d := sample()
	out, n := RemoveByAuthor(d, "  alice")
	if n != 3 {
		t.Fatalf("want 3 removed, got %d", n)
	}
	if len(out) != len(d)-n {
		t.Fatalf("count mismatch: len=%d removed=%d", len(out), n)
	}
	for _, r := range out {
		if IsValid(r) && strings.TrimSpace(r.Author) == "alice" {
			t.Fatalf("record for alice survived: %+v", r)
		}
	}
	if len(Malformed(out)) != 2 {
		t.Fatalf("malformed rows not preserved: %+v", out)
	}
	// input untouched
	if d[0].Author != "alice" || len(d) != 7 {
		t.Fatalf("input mutated: %+v", d)
	}
}

func TestRemoveByAuthor_Idempotent(t *testing.T) {
	for _, u := range []string{"alice", "bob", "Alice", "nobody", ""} {
		once, _ := RemoveByAuthor(sample(), u)
		twice, n := RemoveByAuthor(once, u)
		if n != 0 || len(twice) != len(once) {
			t.Fatalf("remove %q not idempotent: %d then %d", u, len(once), len(twice))
		}
		for i := range once {
			if once[i] != twice[i] {
				t.Fatalf("remove %q changed row %d", u, i)
			}
		}
	}
}

func TestRemoveByAuthor_NeverRemovesMalformed(t *testing.T) {
	d := Dataset{{Text: "", Author: "alice"}, {Text: "x", Author: ""}, {}}
	for _, u := range []string{"", "alice", " ", "x"} {
		out, n := RemoveByAuthor(d, u)
		if n != 0 || len(out) != 3 {
			t.Fatalf("author %q removed malformed rows: %+v", u, out)
		}
	}
}

func TestValidatorFilter(t *testing.T) {
	var warnings []ValidationWarning
	v := Validator{Policy: PolicyDrop, Warn: func(w ValidationWarning) { warnings = append(warnings, w) }}
	out := v.Filter(sample())
	if len(out) != 5 {
		t.Fatalf("drop: want 5 rows, got %d", len(out))
	}
	if len(warnings) != 2 || warnings[0].Line != 5 || warnings[1].Reason != "empty author" {
		t.Fatalf("unexpected warnings: %+v", warnings)
	}

	warnings = nil
	v.Policy = PolicyKeep
	if out := v.Filter(sample()); len(out) != 7 {
		t.Fatalf("keep: want 7 rows, got %d", len(out))
	}
	if len(warnings) != 2 {
		t.Fatalf("keep: want 2 warnings, got %d", len(warnings))
	}
}

func TestValidatorFilter_NormalizesCRLF(t *testing.T) {
	in := Dataset{{Text: "line one\r\nline two\rthree", Author: "bob"}}
	out := NewValidator(PolicyKeep).Filter(in)
	if len(out) != 1 || out[0].Text != "line one\nline two\rthree" {
		t.Fatalf("unexpected text: %q", out[0].Text)
	}
	if in[0].Text != "line one\r\nline two\rthree" {
		t.Fatalf("input modified: %q", in[0].Text)
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy(""); err != nil || p != PolicyKeep {
		t.Fatalf("default: %v %v", p, err)
	}
	if p, err := ParsePolicy("DROP"); err != nil || p != PolicyDrop {
		t.Fatalf("drop: %v %v", p, err)
	}
	if _, err := ParsePolicy("purge"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}

func TestReplaceAndUnion(t *testing.T) {
	fresh := Dataset{{Text: "a", Author: "x"}}
	got := Replace(sample(), fresh)
	if len(got) != 1 || got[0] != fresh[0] {
		t.Fatalf("replace: %+v", got)
	}
	got[0].Text = "changed"
	if fresh[0].Text != "a" {
		t.Fatalf("replace shares memory with input")
	}
	if u := Union(fresh, fresh); len(u) != 2 {
		t.Fatalf("union: %+v", u)
	}
}

type memStore struct {
	mu    sync.Mutex
	saves []Dataset
	err   error
}

func (m *memStore) Save(d Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves = append(m.saves, d.Clone())
	return nil
}

func TestCache_RemovePersists(t *testing.T) {
	st := &memStore{}
	c := NewCache(sample(), st)
	n, err := c.RemoveByAuthor(context.Background(), "bob")
	if err != nil || n != 1 {
		t.Fatalf("remove: n=%d err=%v", n, err)
	}
	if len(st.saves) != 1 || len(st.saves[0]) != 6 {
		t.Fatalf("expected one save of 6 rows, got %+v", st.saves)
	}
	if c.Len() != 6 {
		t.Fatalf("cache len: want 6, got %d", c.Len())
	}

	n, err = c.RemoveByAuthor(context.Background(), "bob")
	if err != nil || n != 0 {
		t.Fatalf("second remove: n=%d err=%v", n, err)
	}
	if len(st.saves) != 1 {
		t.Fatalf("no-op remove must not persist")
	}
}

func TestCache_SaveFailureKeepsState(t *testing.T) {
	st := &memStore{err: errors.New("disk full")}
	c := NewCache(sample(), st)
	if _, err := c.Replace(context.Background(), Dataset{}); err == nil {
		t.Fatalf("expected error")
	}
	if c.Len() != 7 {
		t.Fatalf("state changed after failed save: %d", c.Len())
	}
}

func TestCache_ConcurrentMutationsDoNotLoseUpdates(t *testing.T) {
	var d Dataset
	authors := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, a := range authors {
		for i := 0; i < 10; i++ {
			d = append(d, Record{Text: "msg", Author: a})
		}
	}
	st := &memStore{}
	c := NewCache(d, st)

	var wg sync.WaitGroup
	for _, a := range authors {
		wg.Add(1)
		go func(a string) {
			defer wg.Done()
			if _, err := c.RemoveByAuthor(context.Background(), a); err != nil {
				t.Errorf("remove %s: %v", a, err)
			}
		}(a)
	}
	wg.Wait()

	if c.Len() != 0 {
		t.Fatalf("lost update: %d rows remain", c.Len())
	}
	last := st.saves[len(st.saves)-1]
	if len(last) != 0 {
		t.Fatalf("persisted state diverged: %d rows", len(last))
	}
}

func TestCache_MutateHonoursContext(t *testing.T) {
	c := NewCache(nil, &memStore{})
	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = c.Mutate(context.Background(), func(cur Dataset) (Dataset, bool, error) {
			close(started)
			<-hold
			return cur, false, nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Mutate(ctx, func(cur Dataset) (Dataset, bool, error) { return cur, false, nil })
	close(hold)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestCache_SnapshotIsStable(t *testing.T) {
	c := NewCache(Dataset{{Text: "a", Author: "x"}}, nil)
	snap := c.Snapshot()
	if _, err := c.Replace(context.Background(), Dataset{{Text: "b", Author: "y"}, {Text: "c", Author: "z"}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if len(snap) != 1 || snap[0].Text != "a" {
		t.Fatalf("snapshot changed under reader: %+v", snap)
	}
	if c.Len() != 2 {
		t.Fatalf("want 2, got %d", c.Len())
	}
}
