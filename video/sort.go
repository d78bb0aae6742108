package video

import (
	"fmt"
	"strings"
)

// SortKey is the closed set of listing orders.
type SortKey int

const (
	SortMostRecent SortKey = iota
	SortOldestFirst
	SortMostViewed
	SortLeastViewed
)

var sortTokens = map[SortKey]string{
	SortMostRecent:  "most-recent",
	SortOldestFirst: "oldest-first",
	SortMostViewed:  "most-viewed",
	SortLeastViewed: "least-viewed",
}

// String returns the canonical token for the sort key.
func (k SortKey) String() string {
	if s, ok := sortTokens[k]; ok {
		return s
	}
	return "unknown"
}

// ParseSortKey maps a token or display label ("Most Viewed", "most-viewed", "most_viewed")
// to a SortKey. Empty input means the default order; anything else unrecognized is a
// validation failure rather than a silent fallback.
func ParseSortKey(s string) (SortKey, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	if norm == "" {
		return SortMostRecent, nil
	}
	norm = strings.NewReplacer(" ", "-", "_", "-").Replace(norm)
	for k, tok := range sortTokens {
		if tok == norm {
			return k, nil
		}
	}
	return SortMostRecent, invalid(fmt.Sprintf("unknown sort filter %q", s))
}

// orderBy returns the ORDER BY clause. The id tiebreaker keeps repeated queries stable.
func (k SortKey) orderBy() string {
	switch k {
	case SortOldestFirst:
		return "v.created_at ASC, v.id ASC"
	case SortMostViewed:
		return "v.views DESC, v.created_at DESC, v.id DESC"
	case SortLeastViewed:
		return "v.views ASC, v.created_at DESC, v.id DESC"
	default:
		return "v.created_at DESC, v.id DESC"
	}
}
