package shared

// Pagination carries offset paging state for listings. Total counts are not
// queried; HasNext comes from fetching one row past the page.
type Pagination struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// NewPagination normalizes page inputs and computes the prev/next links.
func NewPagination(page, pageSize, maxPageSize int, hasNext bool) Pagination {
	if pageSize <= 0 {
		pageSize = 20
	}
	if maxPageSize > 0 && pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if page <= 0 {
		page = 1
	}
	p := Pagination{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		p.PrevPage = page - 1
	}
	if hasNext {
		p.NextPage = page + 1
	}
	return p
}

// Offset returns the row offset for the current page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}
