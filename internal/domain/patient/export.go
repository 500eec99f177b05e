package patient

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts "csv" or "xlsx" in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatXLSX:
		return f, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// FileName is the attachment name offered to the browser.
func (f Format) FileName() string {
	return "patients." + string(f)
}

// ExportHeader names the export columns, one per record field.
var ExportHeader = []string{
	"_id", "firstName", "lastName", "contacts", "age",
	"dateOfentry", "medicalHistory", "doctorName", "createdAt", "updatedAt",
}

const (
	exportSheet     = "Patients"
	historySep      = ";"
	ageColumnIndex  = 4
	dateColumnIndex = 5
)

func exportRow(p *Patient) []string {
	row := []string{
		p.ID, p.FirstName, p.LastName, p.Contacts, "",
		"", strings.Join(p.MedicalHistory, historySep), p.DoctorName,
		formatTimestamp(p.CreatedAt), formatTimestamp(p.UpdatedAt),
	}
	if p.Age != nil {
		row[ageColumnIndex] = strconv.FormatFloat(*p.Age, 'f', -1, 64)
	}
	if p.DateOfEntry != nil && !p.DateOfEntry.IsZero() {
		row[dateColumnIndex] = p.DateOfEntry.UTC().Format("2006-01-02")
	}
	return row
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Exporter writes the whole patient collection as a downloadable file.
type Exporter struct {
	svc *Service
	dir string
}

// NewExporter returns an exporter writing temporary files under dir, or the
// OS temp directory when dir is empty.
func NewExporter(svc *Service, dir string) *Exporter {
	return &Exporter{svc: svc, dir: dir}
}

// Write renders every record to w and returns how many were written. An empty
// collection produces the header row alone.
func (x *Exporter) Write(ctx context.Context, w io.Writer, format Format) (int, error) {
	patients, err := x.svc.ListPatients(ctx)
	if err != nil {
		return 0, err
	}
	switch format {
	case FormatCSV:
		err = writeCSV(w, patients)
	case FormatXLSX:
		err = writeXLSX(w, patients)
	default:
		err = fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		return 0, err
	}
	return len(patients), nil
}

// WriteFile renders the export into a new temporary file and returns its
// path. The caller removes the file.
func (x *Exporter) WriteFile(ctx context.Context, format Format) (string, int, error) {
	f, err := os.CreateTemp(x.dir, "patients-*."+string(format))
	if err != nil {
		return "", 0, fmt.Errorf("create export file: %w", err)
	}
	path := f.Name()

	n, err := x.Write(ctx, f, format)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close export file: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, err
	}
	return path, n, nil
}

func writeCSV(w io.Writer, patients []*Patient) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, p := range patients {
		if err := cw.Write(escapeFormulas(exportRow(p))); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// textColumns are the free-text columns of an export row.
var textColumns = []int{1, 2, 3, 6, 7}

// escapeFormulas prefixes free-text cells that a spreadsheet would evaluate
// as a formula with a single quote. Workbook cells are typed as strings and
// need no escaping.
func escapeFormulas(row []string) []string {
	for _, i := range textColumns {
		if v := row[i]; v != "" && strings.ContainsRune("=+-@\t\r", rune(v[0])) {
			row[i] = "'" + v
		}
	}
	return row
}

var exportColumnWidths = []float64{26, 16, 16, 14, 8, 14, 28, 18, 22, 22}

func writeXLSX(w io.Writer, patients []*Patient) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close workbook: %w", cerr)
		}
	}()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	header := make([]interface{}, len(ExportHeader))
	for i, h := range ExportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(ExportHeader), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(exportSheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, width := range exportColumnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(exportSheet, col, col, width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	for i, p := range patients {
		cells := exportRow(p)
		values := make([]interface{}, len(cells))
		for j, v := range cells {
			values[j] = v
		}
		// Keep age numeric so the sheet can sort and sum it.
		if p.Age != nil {
			values[ageColumnIndex] = *p.Age
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(exportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
