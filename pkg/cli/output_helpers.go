package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"cubeopt/internal/results"
)

// getOutputFormat returns the effective output format from the root command's persistent flags.
func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	return v
}

func validateOutputFormat(output string) error {
	if output != "" && output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable writes a borderless table with upper-case headers and two
// spaces between columns. No columns means no output.
func printTable(w io.Writer, columns []string, rows [][]string) {
	if len(columns) == 0 {
		return
	}
	t := tablewriter.NewWriter(w)
	t.SetHeader(columns)
	t.SetAutoFormatHeaders(true)
	t.SetAutoWrapText(false)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetCenterSeparator("")
	t.SetColumnSeparator("")
	t.SetRowSeparator("")
	t.SetHeaderLine(false)
	t.SetBorder(false)
	t.SetTablePadding("  ")
	t.SetNoWhiteSpace(true)
	t.AppendBulk(rows)
	t.Render()
}

// terminalWidth is the width of stdout, or 0 when stdout is not a terminal.
func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	w, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return w
}

// compactWidth is the terminal width below which result tables fold the
// dimension columns into one ORDERING column.
const compactWidth = 140

// printResults prints the tabular projection of a finalized result set. With
// wide set every dimension gets its own column.
func printResults(w io.Writer, set *results.ResultSet, wide bool) {
	rows := set.Table()
	columns := set.Columns()
	if !wide {
		columns = append(columns[:len(columns)-len(set.Original)], "Ordering")
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		cells := r.Strings()
		if !wide {
			cells = append(cells[:len(cells)-len(r.Dimensions)], strings.Join(r.Dimensions, " > "))
		}
		out[i] = cells
	}
	printTable(w, columns, out)
}

// wideResults decides whether result tables get one column per dimension.
func wideResults() bool {
	w := terminalWidth()
	return w == 0 || w >= compactWidth
}
