package report

import (
	"encoding/json"
	"io"
	"time"

	"cubeopt/internal/results"
)

type jsonReport struct {
	Cube         string       `json:"cube"`
	View         string       `json:"view,omitempty"`
	ExtraViews   []string     `json:"extra_views,omitempty"`
	Strategy     string       `json:"strategy"`
	Selection    string       `json:"selection"`
	Original     []string     `json:"original_order"`
	BestOrder    []string     `json:"best_order,omitempty"`
	BestImproves bool         `json:"best_improves"`
	Applied      []string     `json:"applied_order,omitempty"`
	Aborted      string       `json:"aborted,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
	Records      []jsonRecord `json:"records"`
	Failed       []jsonFailed `json:"failed,omitempty"`
}

type jsonRecord struct {
	ID           int                `json:"id"`
	Mode         string             `json:"mode"`
	IsBest       bool               `json:"is_best"`
	MeanSeconds  float64            `json:"mean_query_seconds"`
	MedianSecond float64            `json:"median_query_seconds"`
	QueryRatio   float64            `json:"query_ratio"`
	RAMBytes     int64              `json:"ram_bytes"`
	RAMChangePct float64            `json:"ram_change_pct"`
	ViewMeans    map[string]float64 `json:"view_mean_seconds,omitempty"`
	Ordering     []string           `json:"ordering"`
}

type jsonFailed struct {
	Ordering []string `json:"ordering"`
	Error    string   `json:"error"`
}

// WriteJSON writes the finalized set as an indented JSON document.
func WriteJSON(w io.Writer, set *results.ResultSet) error {
	doc := jsonReport{
		Cube:         set.Cube,
		View:         set.View,
		ExtraViews:   set.ExtraViews,
		Strategy:     string(set.Strategy),
		Selection:    string(set.Selection),
		Original:     set.Original,
		BestImproves: set.BestImproves(),
		Applied:      set.Applied,
		StartedAt:    set.StartedAt,
		FinishedAt:   set.FinishedAt,
		Records:      []jsonRecord{},
	}
	if best := set.Best(); best != nil {
		doc.BestOrder = best.Ordering
	}
	if err := set.AbortErr(); err != nil {
		doc.Aborted = err.Error()
	}
	for _, row := range set.Table() {
		var means map[string]float64
		if len(row.ViewMeans) > 0 {
			means = make(map[string]float64, len(row.ViewMeans)+1)
			means[set.View] = row.MeanQueryTime.Seconds()
			for i, m := range row.ViewMeans {
				means[set.ExtraViews[i]] = m.Seconds()
			}
		}
		doc.Records = append(doc.Records, jsonRecord{
			ID:           row.ID,
			Mode:         row.Mode,
			IsBest:       row.IsBest,
			MeanSeconds:  row.MeanQueryTime.Seconds(),
			MedianSecond: row.MedianQueryTime.Seconds(),
			QueryRatio:   row.QueryRatio,
			RAMBytes:     row.RAMBytes,
			RAMChangePct: row.RAMChangePct,
			ViewMeans:    means,
			Ordering:     row.Dimensions,
		})
	}
	for _, f := range set.Failed() {
		doc.Failed = append(doc.Failed, jsonFailed{Ordering: f.Ordering, Error: f.Err.Error()})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
