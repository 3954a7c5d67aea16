package cli

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// RenderTable renders t as a fixed-width terminal table.
func RenderTable(t Tabular) string {
	w := table.NewWriter()
	w.SetStyle(table.StyleLight)
	w.Style().Format.Header = text.FormatUpper

	header := make(table.Row, 0, len(t.Header()))
	for _, h := range t.Header() {
		header = append(header, h)
	}
	w.AppendHeader(header)

	for _, r := range t.Rows() {
		row := make(table.Row, len(r))
		for i, v := range r {
			row[i] = v
		}
		w.AppendRow(row)
	}
	return w.Render()
}

// Table is a ready-made Tabular value.
type Table struct {
	Columns []string
	Data    [][]string
}

// Header implements Tabular.
func (t *Table) Header() []string { return t.Columns }

// Rows implements Tabular.
func (t *Table) Rows() [][]string { return t.Data }
