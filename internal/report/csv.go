package report

import (
	"encoding/csv"
	"io"

	"cubeopt/internal/results"
)

// WriteCSV writes the tabular projection with a header row.
func WriteCSV(w io.Writer, set *results.ResultSet) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(set.Columns()); err != nil {
		return err
	}
	for _, row := range set.Table() {
		if err := cw.Write(row.Strings()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
