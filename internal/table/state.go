// Package table serves the paginated, filtered and sorted row views of the
// dashboard tables.
package table

import (
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/pitabwire/dastyar/internal/config"
	"github.com/pitabwire/dastyar/internal/store"
	"github.com/pitabwire/dastyar/model"
)

// Direction is a sort direction.
type Direction string

const (
	Ascending  Direction = "ascending"
	Descending Direction = "descending"
)

// Sort is the sort descriptor of a table.
type Sort struct {
	Column    string    `json:"column"`
	Direction Direction `json:"direction"`
}

// All is the filter value meaning "no filter".
const All = "all"

// State is the user-controlled state of one table. Its setters return a new
// State; changing the search, a filter or the page size returns to page 1.
type State struct {
	Search         string   `json:"search"`
	VisibleColumns []string `json:"visible_columns"`
	StatusFilter   []string `json:"status_filter"`
	TypeFilter     []string `json:"type_filter"`
	RowsPerPage    int      `json:"rows_per_page"`
	Sort           Sort     `json:"sort"`
	Page           int      `json:"page"`
}

// NewState returns the initial state of the table of def.
func NewState(def model.EntityDefinition, cfg config.TableConfig) State {
	rows := cfg.RowsPerPage
	if rows < 1 {
		rows = 5
	}
	column := def.DefaultSort
	if column == "" {
		column = cfg.DefaultSort
	}
	if column == "" {
		column = "name"
	}
	return State{
		VisibleColumns: append([]string(nil), def.InitialVisibleColumns...),
		RowsPerPage:    rows,
		Sort:           Sort{Column: column, Direction: Ascending},
		Page:           1,
	}
}

// WithSearch sets the search term.
func (s State) WithSearch(search string) State {
	s.Search = search
	s.Page = 1
	return s
}

// WithStatusFilter sets the status filter.
func (s State) WithStatusFilter(statuses []string) State {
	s.StatusFilter = normalizeFilter(statuses)
	s.Page = 1
	return s
}

// WithTypeFilter sets the type filter.
func (s State) WithTypeFilter(types []string) State {
	s.TypeFilter = normalizeFilter(types)
	s.Page = 1
	return s
}

// WithRowsPerPage sets the page size. Non-positive sizes are ignored.
func (s State) WithRowsPerPage(n int) State {
	if n < 1 {
		return s
	}
	s.RowsPerPage = n
	s.Page = 1
	return s
}

// WithPage moves to page n. Pages start at 1.
func (s State) WithPage(n int) State {
	if n < 1 {
		n = 1
	}
	s.Page = n
	return s
}

// WithSort sets the sort descriptor. It only reorders the fetched page, so
// the page is kept.
func (s State) WithSort(sort Sort) State {
	if sort.Direction != Descending {
		sort.Direction = Ascending
	}
	if sort.Column != "" {
		s.Sort = sort
	}
	return s
}

// WithVisibleColumns sets the visible columns.
func (s State) WithVisibleColumns(columns []string) State {
	s.VisibleColumns = append([]string(nil), columns...)
	return s
}

func normalizeFilter(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || slices.Contains(out, v) {
			continue
		}
		if v == All {
			return nil
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// filterValues returns values, or ["all"] when unset.
func filterValues(values []string) []string {
	if len(values) == 0 {
		return []string{All}
	}
	return append([]string(nil), values...)
}

// Filter returns the store filter of the state.
func (s State) Filter(searchColumns []string) store.Filter {
	return store.Filter{
		Types:         filterValues(s.TypeFilter),
		Statuses:      filterValues(s.StatusFilter),
		Search:        strings.TrimSpace(s.Search),
		SearchColumns: searchColumns,
	}
}

// Query returns the store query of the current page.
func (s State) Query(searchColumns []string) store.Query {
	page := max(s.Page, 1)
	return store.Query{
		Filter: s.Filter(searchColumns),
		Offset: (page - 1) * s.RowsPerPage,
		Limit:  s.RowsPerPage,
	}
}

// ParseState applies URL query parameters to base: search, status, type
// (comma separated or repeated), rows_per_page, page, sort, dir and
// columns. A changed search, filter or page size resets the page unless
// page is given.
func ParseState(q url.Values, base State) State {
	s := base
	if q.Has("search") {
		s = s.WithSearch(q.Get("search"))
	}
	if q.Has("status") {
		s = s.WithStatusFilter(splitList(q["status"]))
	}
	if q.Has("type") {
		s = s.WithTypeFilter(splitList(q["type"]))
	}
	if n, err := strconv.Atoi(q.Get("rows_per_page")); err == nil {
		s = s.WithRowsPerPage(n)
	}
	if n, err := strconv.Atoi(q.Get("page")); err == nil {
		s = s.WithPage(n)
	}
	if col := q.Get("sort"); col != "" {
		s = s.WithSort(Sort{Column: col, Direction: Direction(q.Get("dir"))})
	}
	if q.Has("columns") {
		s = s.WithVisibleColumns(splitList(q["columns"]))
	}
	return s
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
