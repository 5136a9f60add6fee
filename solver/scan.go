package solver

import "fmt"

// ScanOrder is the order in which the assigner looks for a free seat.
type ScanOrder int

const (
	// ColumnMajor walks column 0 top to bottom, then column 1, and so on.
	ColumnMajor ScanOrder = iota
	RowMajor
)

func ParseScanOrder(s string) (ScanOrder, error) {
	switch s {
	case "", "column", "column-major":
		return ColumnMajor, nil
	case "row", "row-major":
		return RowMajor, nil
	}
	return ColumnMajor, fmt.Errorf("unknown scan order %q", s)
}

func (o ScanOrder) String() string {
	if o == RowMajor {
		return "row-major"
	}
	return "column-major"
}

// find returns the first position in scan order accepted by ok.
func (o ScanOrder) find(rows, cols int, ok func(Position) bool) (Position, bool) {
	if o == RowMajor {
		for row := range rows {
			for col := range cols {
				if p := (Position{row, col}); ok(p) {
					return p, true
				}
			}
		}
		return Position{}, false
	}
	for col := range cols {
		for row := range rows {
			if p := (Position{row, col}); ok(p) {
				return p, true
			}
		}
	}
	return Position{}, false
}

// each visits every position in scan order until visit returns false.
func (o ScanOrder) each(rows, cols int, visit func(Position) bool) {
	o.find(rows, cols, func(p Position) bool { return !visit(p) })
}
