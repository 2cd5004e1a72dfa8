package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// Format selects the output encoding.
type Format string

// All formats supported.
const (
	TableOut Format = "table" // default
	CSVOut   Format = "csv"
	JSONOut  Format = "json"
)

// ParseFormat validates an output format name. Empty means TableOut.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", TableOut:
		return TableOut, nil
	case CSVOut, JSONOut:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, csv or json)", s)
	}
}

// Printer renders report data with a fixed format and precision.
type Printer struct {
	Format    Format
	Precision int
}

func (p Printer) fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', p.Precision, 64)
}

var summaryHeaders = []string{"Status", "Intervals", "Closed", "Open", "Issues", "Total Min", "Mean Min", "Median Min", "Open Age Min"}

// WriteSummaries renders per-status aggregates.
func (p Printer) WriteSummaries(w io.Writer, sums []StatusSummary) error {
	if p.Format == JSONOut {
		return writeJSON(w, sums)
	}

	data := make([][]string, 0, len(sums))
	for _, s := range sums {
		data = append(data, []string{
			s.Status,
			strconv.Itoa(s.Intervals),
			strconv.Itoa(s.Closed),
			strconv.Itoa(s.Open),
			strconv.Itoa(s.Issues),
			p.fmtFloat(s.TotalMinutes),
			p.fmtFloat(s.MeanMinutes),
			p.fmtFloat(s.MedianMinutes),
			p.fmtFloat(s.OpenAgeMinutes),
		})
	}
	if p.Format == CSVOut {
		return writeCSV(w, summaryHeaders, data)
	}
	return writeTable(w, summaryHeaders, data)
}

var rowHeaders = []string{"Issue", "Status", "Entered", "Exited", "Minutes"}

// WriteRows renders individual intervals.
func (p Printer) WriteRows(w io.Writer, rows []IntervalRow) error {
	if p.Format == JSONOut {
		return writeJSON(w, rows)
	}

	data := make([][]string, 0, len(rows))
	for _, r := range rows {
		exited := "open"
		if r.ExitedAt != nil {
			exited = r.ExitedAt.UTC().Format(time.RFC3339)
		}
		data = append(data, []string{
			r.IssueKey,
			r.Status,
			r.EnteredAt.UTC().Format(time.RFC3339),
			exited,
			p.fmtFloat(r.Minutes),
		})
	}
	if p.Format == CSVOut {
		return writeCSV(w, rowHeaders, data)
	}
	return writeTable(w, rowHeaders, data)
}

func writeTable(w io.Writer, headers []string, data [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(headers)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func writeCSV(w io.Writer, headers []string, data [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return err
	}
	if err := cw.WriteAll(data); err != nil {
		return err
	}
	return cw.Error()
}

func writeJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// WatermarkRow is one job's last successful run.
type WatermarkRow struct {
	Job     string    `json:"job"`
	LastRun time.Time `json:"lastRun"`
}

var watermarkHeaders = []string{"Job", "Last Run"}

// WriteWatermarks renders job watermarks.
func (p Printer) WriteWatermarks(w io.Writer, rows []WatermarkRow) error {
	if p.Format == JSONOut {
		return writeJSON(w, rows)
	}

	data := make([][]string, 0, len(rows))
	for _, r := range rows {
		data = append(data, []string{r.Job, r.LastRun.UTC().Format(time.RFC3339Nano)})
	}
	if p.Format == CSVOut {
		return writeCSV(w, watermarkHeaders, data)
	}
	return writeTable(w, watermarkHeaders, data)
}
