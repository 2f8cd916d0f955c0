// Package xlsx renders tabular exports as spreadsheet files.
package xlsx

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ContentType is the MIME type of the produced files.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const defaultSheet = "Sheet1"

// Table is one sheet worth of data. Rows may be empty; the header row is always written.
type Table struct {
	Sheet  string
	Header []string
	Rows   [][]any
}

// Write streams table into w as a single-sheet workbook.
func Write(w io.Writer, table Table) error {
	if len(table.Header) == 0 {
		return errors.New("xlsx: header is required")
	}
	f := excelize.NewFile()
	defer f.Close()

	sheet := defaultSheet
	if table.Sheet != "" && table.Sheet != defaultSheet {
		if err := f.SetSheetName(defaultSheet, table.Sheet); err != nil {
			return fmt.Errorf("xlsx: rename sheet: %w", err)
		}
		sheet = table.Sheet
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("xlsx: header style: %w", err)
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("xlsx: stream writer: %w", err)
	}
	if err := sw.SetColWidth(1, len(table.Header), 18); err != nil {
		return fmt.Errorf("xlsx: column width: %w", err)
	}

	header := make([]any, len(table.Header))
	for i, h := range table.Header {
		header[i] = h
	}
	if err := sw.SetRow("A1", header, excelize.RowOpts{StyleID: bold}); err != nil {
		return fmt.Errorf("xlsx: header row: %w", err)
	}
	for i, row := range table.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("xlsx: row %d: %w", i+2, err)
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("xlsx: row %d: %w", i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("xlsx: flush: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx: write: %w", err)
	}
	return nil
}
