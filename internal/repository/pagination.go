package repository

// Paging defaults for the operator console's order listing. The cap keeps a
// greedy page size from dragging whole seasons of orders into one response.
const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PageRequest carries the page coordinates a listing endpoint accepted.
type PageRequest struct {
	Page     int
	PageSize int
}

// normalized clamps out-of-range coordinates to usable values instead of
// rejecting them, so a sloppy console query still returns the first page.
func (p PageRequest) normalized() PageRequest {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// PageResult is one page of a listing plus the totals the console needs to
// render its pager.
type PageResult[T any] struct {
	Items      []T   `json:"items"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

func (p PageRequest) offset() int {
	return (p.Page - 1) * p.PageSize
}

func calcTotalPages(total int64, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	pages := (total + int64(pageSize) - 1) / int64(pageSize)
	if pages > int64(maxInt) {
		return maxInt
	}
	return int(pages)
}

const maxInt = int(^uint(0) >> 1)
