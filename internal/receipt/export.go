package receipt

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// ExportFormat is a report file format
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatXLSX ExportFormat = "xlsx"
)

var reportHeader = []string{
	"original_file", "merchant_name", "business_number",
	"payment_date", "payment_amount", "tax_type", "renamed_file",
}

const reportSheet = "receipts"

var reportColumns = []struct {
	from, to string
	width    float64
}{
	{"A", "A", 28}, // original
	{"B", "B", 24}, // merchant
	{"C", "F", 14},
	{"G", "G", 48}, // renamed
}

// reportRows returns one row per upload. Failed uploads keep their original
// name and leave the other columns empty.
func reportRows(batch *BatchResult) [][]string {
	rows := make([][]string, 0, len(batch.Outcomes))
	for _, o := range batch.Outcomes {
		if o.Record == nil {
			rows = append(rows, []string{o.OriginalFile, "", "", "", "", "", ""})
			continue
		}
		r := o.Record
		amount := ""
		if r.HasAmount {
			amount = strconv.FormatInt(r.PaymentAmount, 10)
		}
		rows = append(rows, []string{
			o.OriginalFile, r.MerchantName, r.BusinessNumber,
			r.PaymentDate, amount, r.TaxType.String(), o.RenamedFile,
		})
	}
	return rows
}

// WriteCSV writes the batch report as UTF-8 CSV with a byte order mark so
// spreadsheet apps detect the encoding of Korean text.
func WriteCSV(w io.Writer, batch *BatchResult) error {
	if _, err := io.WriteString(w, "\ufeff"); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	if err := cw.WriteAll(reportRows(batch)); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return nil
}

// WriteXLSX writes the batch report as a single sheet workbook.
func WriteXLSX(w io.Writer, batch *BatchResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	header := make([]any, len(reportHeader))
	for i, h := range reportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(reportSheet, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for r, row := range reportRows(batch) {
		cells := make([]any, len(row))
		for c, v := range row {
			cells[c] = v
		}
		// amounts stay numeric so they can be summed
		if v := row[4]; v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("parsing amount %q: %w", v, err)
			}
			cells[4] = n
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return fmt.Errorf("locating row %d: %w", r+2, err)
		}
		if err := f.SetSheetRow(reportSheet, cell, &cells); err != nil {
			return fmt.Errorf("writing row %d: %w", r+2, err)
		}
	}

	for _, col := range reportColumns {
		if err := f.SetColWidth(reportSheet, col.from, col.to, col.width); err != nil {
			return fmt.Errorf("sizing columns %s-%s: %w", col.from, col.to, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return fmt.Errorf("writing xlsx: %w", err)
	}
	if _, err := buf.WriteTo(w); err != nil {
		return fmt.Errorf("writing xlsx: %w", err)
	}
	return nil
}

// WriteReport writes the batch report in format.
func WriteReport(w io.Writer, batch *BatchResult, format ExportFormat) error {
	switch format {
	case FormatCSV, "":
		return WriteCSV(w, batch)
	case FormatXLSX:
		return WriteXLSX(w, batch)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}
