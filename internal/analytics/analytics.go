package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"guesser/internal/dataset"
)

// Stats describes a dataset snapshot.
type Stats struct {
	TotalRecords  int            `json:"total_records"`
	Malformed     int            `json:"malformed"`
	UniqueAuthors int            `json:"unique_authors"`
	AvgTextLen    float64        `json:"avg_text_len"`
	Authors       map[string]int `json:"authors"`
}

// AuthorCount is one row of a leaderboard.
type AuthorCount struct {
	Author string `json:"author"`
	Count  int    `json:"count"`
}

// Summarize counts records per trimmed author. Malformed rows are counted
// separately and do not contribute to author totals.
func Summarize(d dataset.Dataset) *Stats {
	stats := &Stats{
		TotalRecords: len(d),
		Authors:      make(map[string]int),
	}
	var textLen int
	for _, r := range d {
		if !dataset.IsValid(r) {
			stats.Malformed++
			continue
		}
		stats.Authors[strings.TrimSpace(r.Author)]++
		textLen += len([]rune(r.Text))
	}
	stats.UniqueAuthors = len(stats.Authors)
	if valid := stats.TotalRecords - stats.Malformed; valid > 0 {
		stats.AvgTextLen = float64(textLen) / float64(valid)
	}
	return stats
}

// Top returns the n authors with the most records, ties broken by name.
// n <= 0 returns all authors.
func (s *Stats) Top(n int) []AuthorCount {
	out := make([]AuthorCount, 0, len(s.Authors))
	for a, c := range s.Authors {
		out = append(out, AuthorCount{Author: a, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Author < out[j].Author
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// GenerateReportSummary renders the stats as a chat reply.
func (s *Stats) GenerateReportSummary(top int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dataset statistics:\n- Entries: %d\n- Authors: %d\n", s.TotalRecords, s.UniqueAuthors)
	if s.Malformed > 0 {
		fmt.Fprintf(&b, "- Malformed entries: %d\n", s.Malformed)
	}
	if s.TotalRecords-s.Malformed > 0 {
		fmt.Fprintf(&b, "- Average message length: %.1f characters\n", s.AvgTextLen)
	}
	leaders := s.Top(top)
	if len(leaders) > 0 {
		b.WriteString("\nTop authors:\n")
		for i, l := range leaders {
			fmt.Fprintf(&b, "%d. %s: %d\n", i+1, l.Author, l.Count)
		}
	}
	return b.String()
}

// ToJSON serializes the stats for detailed inspection.
func (s *Stats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
