package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"sdstore/internal/ipc"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderStatusTables(w io.Writer, status *ipc.StatusResponse) {
	jobs := append([]ipc.JobStatus(nil), status.Jobs...)
	// Numeric collation keeps file-2 ahead of file-10 in listings.
	coll := collate.New(language.Und, collate.Numeric)
	sort.SliceStable(jobs, func(i, j int) bool {
		if cmp := coll.CompareString(jobs[i].InputPath, jobs[j].InputPath); cmp != 0 {
			return cmp < 0
		}
		return jobs[i].ID < jobs[j].ID
	})

	jobRows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		jobRows = append(jobRows, []string{
			fmt.Sprintf("%d", job.ID),
			job.State,
			fmt.Sprintf("%d", job.Priority),
			job.InputPath,
			job.OutputPath,
			strings.Join(job.Pipeline, " "),
		})
	}
	if len(jobRows) == 0 {
		fmt.Fprintln(w, "No active jobs")
	} else {
		fmt.Fprintln(w, renderTable(
			[]string{"ID", "State", "Priority", "Input", "Output", "Pipeline"},
			jobRows,
			[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
		))
	}

	filterRows := make([][]string, 0, len(status.Filters))
	for _, usage := range status.Filters {
		filterRows = append(filterRows, []string{
			usage.Kind,
			fmt.Sprintf("%d", usage.Running),
			fmt.Sprintf("%d", usage.Max),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Filter", "Running", "Max"},
		filterRows,
		[]columnAlignment{alignLeft, alignRight, alignRight},
	))
}

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	if isatty.IsTerminal(os.Stdout.Fd()) {
		tw.SetStyle(table.StyleRounded)
	} else {
		tw.SetStyle(table.StyleLight)
	}

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}
