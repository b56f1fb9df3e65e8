package models

import "math"

// Filter operators accepted by product listings.
const (
	OpEq  = "eq"
	OpGt  = "gt"
	OpGte = "gte"
	OpLt  = "lt"
	OpLte = "lte"
	OpIn  = "in"
)

// Condition is one listing filter. Value holds a string, a float64, or a
// []string for OpIn.
// MaxPage is the highest page a listing may request.
const MaxPage = math.MaxInt32

type Condition struct {
	Field string
	Op    string
	Value interface{}
}

type SortField struct {
	Field string
	Desc  bool
}

type ListQuery struct {
	Filters []Condition
	Sort    []SortField
	Page    int
	Limit   int
}

// Skip is the number of records before the requested page.
func (q ListQuery) Skip() int {
	if q.Page < 1 {
		return 0
	}
	return int((int64(q.Page) - 1) * int64(q.Limit))
}

type PageRef struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

type Pagination struct {
	Next *PageRef `json:"next,omitempty"`
	Prev *PageRef `json:"prev,omitempty"`
}

// NewPagination computes the neighbouring pages of q given the total match count.
func NewPagination(q ListQuery, total int64) Pagination {
	var p Pagination
	end := int64(q.Page) * int64(q.Limit)
	if end < total && q.Page < MaxPage {
		p.Next = &PageRef{Page: q.Page + 1, Limit: q.Limit}
	}
	if q.Skip() > 0 {
		p.Prev = &PageRef{Page: q.Page - 1, Limit: q.Limit}
	}
	return p
}

type ProductPage struct {
	Products   []Product
	Total      int64
	Pagination Pagination
}
