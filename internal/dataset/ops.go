package dataset

import "strings"

// RemoveByAuthor returns a new dataset without the valid records whose trimmed
// author equals the trimmed author argument (case-sensitive), and the number
// of records removed. Malformed records are always kept. d is not modified.
func RemoveByAuthor(d Dataset, author string) (Dataset, int) {
	author = strings.TrimSpace(author)
	out := make(Dataset, 0, len(d))
	for _, r := range d {
		if IsValid(r) && strings.TrimSpace(r.Author) == author {
			continue
		}
		out = append(out, r)
	}
	return out, len(d) - len(out)
}

// Malformed returns the records of d that fail IsValid.
func Malformed(d Dataset) Dataset {
	var out Dataset
	for _, r := range d {
		if !IsValid(r) {
			out = append(out, r)
		}
	}
	return out
}

// Replace is the archive merge policy: the freshly fetched history replaces
// the working set entirely. Re-archiving a channel yields its complete current
// history, not a delta. Callers that want accumulation pass Union(d, fresh).
func Replace(_ Dataset, fresh Dataset) Dataset {
	return fresh.Clone()
}

// Union concatenates a and b into a new dataset.
func Union(a, b Dataset) Dataset {
	out := make(Dataset, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
