package report

import (
	"fmt"
	"io"
	"strings"

	. "maragu.dev/gomponents"
	. "maragu.dev/gomponents/html"

	"cubeopt/internal/results"
)

const pageStyle = `
body { font-family: system-ui, sans-serif; margin: 2rem; color: #1f2328; }
table { border-collapse: collapse; font-size: 0.9rem; }
th, td { border: 1px solid #d0d7de; padding: 0.3rem 0.6rem; text-align: right; }
th { background: #f6f8fa; }
td.dims, th.dims { text-align: left; }
tr.best { background: #dafbe1; }
tr.baseline { background: #fff8c5; }
.summary p { margin: 0.2rem 0; }
`

// WriteHTML writes a standalone HTML page with the run summary and the table.
func WriteHTML(w io.Writer, set *results.ResultSet) error {
	return resultPage(set).Render(w)
}

func resultPage(set *results.ResultSet) Node {
	title := "Dimension order: " + set.Cube
	return Doctype(
		HTML(
			Lang("en"),
			Head(
				Meta(Charset("utf-8")),
				TitleEl(Text(title)),
				StyleEl(Raw(pageStyle)),
			),
			Body(
				H1(Text(title)),
				summaryCard(set),
				resultTable(set),
				failedList(set),
			),
		),
	)
}

func summaryCard(set *results.ResultSet) Node {
	best := "none"
	if b := set.Best(); b != nil {
		best = b.Ordering.String()
	}
	workload := "View: " + set.View
	if len(set.ExtraViews) > 0 {
		workload += " (also timed: " + strings.Join(set.ExtraViews, ", ") + ")"
	}
	if set.View == "" {
		workload = "Process run"
	}
	return Div(Class("summary"),
		P(Text(workload)),
		P(Text("Strategy: "+string(set.Strategy)+" ("+string(set.Selection)+")")),
		P(Text("Original order: "+set.Original.String())),
		P(Text("Best order: "+best)),
		P(Text(fmt.Sprintf("Best improves on original: %t", set.BestImproves()))),
		If(set.Applied != nil, P(Text("Applied order: "+set.Applied.String()))),
		If(set.AbortErr() != nil, P(Strong(Text("Search aborted: ")), Textf("%v", set.AbortErr()))),
	)
}

func resultTable(set *results.ResultSet) Node {
	header := set.Columns()
	ths := make([]Node, 0, len(header))
	for i, h := range header {
		ths = append(ths, Th(If(i >= len(header)-len(set.Original), Class("dims")), Text(h)))
	}

	rows := set.Table()
	trs := make([]Node, 0, len(rows))
	for _, r := range rows {
		class := ""
		switch {
		case r.IsBest:
			class = "best"
		case r.Mode == "Original Order":
			class = "baseline"
		}
		cells := r.Strings()
		tds := make([]Node, 0, len(cells))
		for i, c := range cells {
			tds = append(tds, Td(If(i >= len(cells)-len(r.Dimensions), Class("dims")), Text(c)))
		}
		trs = append(trs, Tr(If(class != "", Class(class)), Group(tds)))
	}
	return Table(THead(Tr(Group(ths))), TBody(Group(trs)))
}

func failedList(set *results.ResultSet) Node {
	failed := set.Failed()
	if len(failed) == 0 {
		return nil
	}
	items := make([]Node, 0, len(failed))
	for _, f := range failed {
		items = append(items, Li(Code(Text(strings.Join(f.Ordering, ", "))), Text(": "+f.Err.Error())))
	}
	return Div(H2(Text("Skipped candidates")), Ul(Group(items)))
}
