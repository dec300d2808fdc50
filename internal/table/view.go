package table

import (
	"github.com/pitabwire/dastyar/model"
)

// Result is the outcome of one fetch of a refresh generation.
type Result[T any] struct {
	Generation uint64
	Value      T
	Err        error
}

// Event is an input of Reduce: Started, CountLoaded or RowsLoaded.
type Event interface {
	isEvent()
}

// Started opens a refresh generation.
type Started struct {
	Generation  uint64
	Page        int
	RowsPerPage int
}

// CountLoaded carries the row count of a generation.
type CountLoaded struct{ Result[int] }

// RowsLoaded carries the fetched page of a generation. Nil rows are
// dropped when reduced.
type RowsLoaded struct{ Result[[]*model.RecordRow] }

func (Started) isEvent()     {}
func (CountLoaded) isEvent() {}
func (RowsLoaded) isEvent()  {}

// View is the displayed state of a table. Rows and count of a generation
// arrive independently and in either order.
type View struct {
	Generation   uint64            `json:"generation"`
	Rows         []model.RecordRow `json:"rows"`
	Total        int               `json:"total"`
	TotalPages   int               `json:"total_pages"`
	Page         int               `json:"page"`
	RowsPerPage  int               `json:"rows_per_page"`
	RowsLoading  bool              `json:"rows_loading"`
	CountLoading bool              `json:"count_loading"`
	RowsError    string            `json:"rows_error,omitempty"`
	CountError   string            `json:"count_error,omitempty"`
}

// Loading reports whether a fetch of the current generation is in flight.
func (v View) Loading() bool { return v.RowsLoading || v.CountLoading }

// TotalPages returns ceil(total/rowsPerPage), at least 1.
func TotalPages(total, rowsPerPage int) int {
	if rowsPerPage < 1 || total <= 0 {
		return 1
	}
	return (total + rowsPerPage - 1) / rowsPerPage
}

// Reduce applies e to v. Results of any generation other than the current
// one are discarded. A new generation clears the rows, so a page never shows
// rows fetched for another page; the total of the previous generation stays
// until the new count arrives or fails.
func Reduce(v View, e Event) View {
	switch e := e.(type) {
	case Started:
		if e.Generation <= v.Generation {
			return v
		}
		v.Generation = e.Generation
		v.Page = e.Page
		v.RowsPerPage = e.RowsPerPage
		v.Rows = nil
		v.RowsLoading = true
		v.CountLoading = true
		v.RowsError = ""
		v.CountError = ""
		v.TotalPages = TotalPages(v.Total, v.RowsPerPage)
		return v

	case CountLoaded:
		if e.Generation != v.Generation || !v.CountLoading {
			return v
		}
		v.CountLoading = false
		if e.Err != nil {
			v.CountError = e.Err.Error()
			return v
		}
		v.Total = e.Value
		v.TotalPages = TotalPages(e.Value, v.RowsPerPage)
		return v

	case RowsLoaded:
		if e.Generation != v.Generation || !v.RowsLoading {
			return v
		}
		v.RowsLoading = false
		if e.Err != nil {
			v.RowsError = e.Err.Error()
			v.Rows = nil
			return v
		}
		rows := make([]model.RecordRow, 0, len(e.Value))
		for _, r := range e.Value {
			if r != nil {
				rows = append(rows, *r)
			}
		}
		v.Rows = rows
		return v
	}
	return v
}
