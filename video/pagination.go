package video

import "math"

const (
	// DefaultPageSize matches the grid size of the listing page.
	DefaultPageSize = 8
	// MaxPageSize caps client-supplied page sizes.
	MaxPageSize = 50
)

// Pagination is returned alongside every page of the global listing.
type Pagination struct {
	CurrentPage int `json:"currentPage"`
	TotalPages  int `json:"totalPages"`
	TotalVideos int `json:"totalVideos"`
	PageSize    int `json:"pageSize"`
}

// NormalizePage clamps page numbers below 1 to 1.
func NormalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

// NormalizePageSize applies the default for non-positive sizes and caps at MaxPageSize.
func NormalizePageSize(size int) int {
	switch {
	case size <= 0:
		return DefaultPageSize
	case size > MaxPageSize:
		return MaxPageSize
	}
	return size
}

// TotalPages is ceil(total/pageSize); zero rows means zero pages.
func TotalPages(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// Offset is the row offset of a 1-based page. It saturates at math.MaxInt instead of
// overflowing, so absurd page numbers land past the end.
func Offset(page, pageSize int) int {
	page = NormalizePage(page)
	if pageSize <= 0 {
		return 0
	}
	if page-1 > math.MaxInt/pageSize {
		return math.MaxInt
	}
	return (page - 1) * pageSize
}

func newPagination(total, page, pageSize int) Pagination {
	return Pagination{
		CurrentPage: page,
		TotalPages:  TotalPages(total, pageSize),
		TotalVideos: total,
		PageSize:    pageSize,
	}
}
