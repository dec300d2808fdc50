package table

import (
	"fmt"
	"slices"

	"github.com/pitabwire/dastyar/internal/persian"
	"github.com/pitabwire/dastyar/model"
)

// Sorted returns v with its fetched rows reordered by sort. The status
// column sorts on the row status; other columns sort on the row data.
// Numbers compare numerically, everything else in Persian dictionary order.
func Sorted(v View, sort Sort) View {
	if sort.Column == "" || len(v.Rows) < 2 {
		return v
	}
	rows := slices.Clone(v.Rows)
	slices.SortStableFunc(rows, func(a, b model.RecordRow) int {
		c := compareRows(a, b, sort.Column)
		if sort.Direction == Descending {
			return -c
		}
		return c
	})
	v.Rows = rows
	return v
}

func compareRows(a, b model.RecordRow, column string) int {
	if column == "status" {
		return persian.Compare(a.Status, b.Status)
	}
	if column == "type" {
		return persian.Compare(string(a.Type), string(b.Type))
	}
	va, vb := a.Data[column], b.Data[column]
	if na, ok := number(va); ok {
		if nb, ok := number(vb); ok {
			switch {
			case na < nb:
				return -1
			case na > nb:
				return 1
			}
			return 0
		}
	}
	return persian.Compare(text(va), text(vb))
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func text(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	return fmt.Sprint(v)
}
