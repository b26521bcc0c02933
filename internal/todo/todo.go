package todo

import (
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTextLength is the upper bound on Text, in Unicode code points.
const MaxTextLength = 500

// Todo is a single todo-list record.
type Todo struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
}

// SameContent reports whether the mutable fields of t and o are equal.
// Identity and creation time are ignored.
func (t Todo) SameContent(o Todo) bool {
	return t.Text == o.Text && t.Completed == o.Completed
}

// Patch describes a partial update. Nil fields are left untouched.
type Patch struct {
	Text      *string
	Completed *bool
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Text == nil && p.Completed == nil
}

// NormalizeText trims surrounding whitespace and checks the length bound.
// Returns the text to store or a *ValidationError.
func NormalizeText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", &ValidationError{Field: "text", Reason: ReasonEmpty}
	}
	if n := utf8.RuneCountInString(trimmed); n > MaxTextLength {
		return "", &ValidationError{Field: "text", Reason: ReasonTooLong, Length: n}
	}
	return trimmed, nil
}

// NormalizeTime strips the monotonic reading and location so that a
// timestamp survives a round trip through any backend unchanged.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Round(0)
}

// Less is the canonical ordering: newest first, ties broken by higher ID.
func Less(a, b Todo) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Compare is Less expressed as a three-way comparison for slices.SortFunc.
func Compare(a, b Todo) int {
	switch {
	case Less(a, b):
		return -1
	case Less(b, a):
		return 1
	default:
		return 0
	}
}

// SortCanonical sorts records in place into canonical order.
func SortCanonical(records []Todo) {
	slices.SortStableFunc(records, Compare)
}

// Stats summarizes a record set.
type Stats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
}

// Count computes Stats for records.
func Count(records []Todo) Stats {
	var s Stats
	for _, r := range records {
		s.Total++
		if r.Completed {
			s.Completed++
		} else {
			s.Active++
		}
	}
	return s
}

// IDs returns the identities of records in order.
func IDs(records []Todo) []int64 {
	ids := make([]int64, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}
