package models

import "strconv"

// Row is a record that can be rendered as one line of a table.
type Row interface {
	Columns() []string
	Values() []string
}

// Table converts rows into a header and cell matrix. The header is taken
// from the zero value when rows is empty.
func Table[T Row](rows []T) ([]string, [][]string) {
	var zero T
	header := zero.Columns()
	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		cells = append(cells, r.Values())
	}
	return header, cells
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
