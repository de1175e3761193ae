package transfer

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet written by XLSX exports.
const SheetName = "Expenses"

// Encode writes rows to w in format f.
func Encode(w io.Writer, f Format, rows []Row) error {
	switch f {
	case FormatCSV:
		return encodeCSV(w, rows)
	case FormatJSON:
		return encodeJSON(w, rows)
	case FormatXLSX:
		return encodeXLSX(w, rows)
	}
	return fmt.Errorf("unsupported format %q", f)
}

// Decode reads rows from r in format f.
func Decode(r io.Reader, f Format) ([]Row, error) {
	switch f {
	case FormatCSV:
		return decodeCSV(r)
	case FormatJSON:
		return decodeJSON(r)
	case FormatXLSX:
		return decodeXLSX(r)
	}
	return nil, fmt.Errorf("unsupported format %q", f)
}

func cells(r Row) []string {
	return []string{deref(r.Date), deref(r.Item), deref(r.Cost), deref(r.Bank), deref(r.Category)}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// fromCells maps positional cells to a row. Cells past the end are absent.
func fromCells(record []string) Row {
	var r Row
	fields := []**string{&r.Date, &r.Item, &r.Cost, &r.Bank, &r.Category}
	for i, field := range fields {
		if i < len(record) {
			*field = ptr(record[i])
		}
	}
	return r
}

func encodeCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(cells(r)); err != nil {
			return fmt.Errorf("writing csv record: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}

func decodeCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var rows []Row
	for line := 0; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv: %w", err)
		}
		if line == 0 {
			continue
		}
		rows = append(rows, fromCells(record))
	}
}

func encodeJSON(w io.Writer, rows []Row) error {
	if rows == nil {
		rows = []Row{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}
	return nil
}

// jsonRow accepts numbers as well as strings for cost and category.
type jsonRow struct {
	Date     *string          `json:"date"`
	Item     *string          `json:"item"`
	Cost     *json.RawMessage `json:"cost"`
	Bank     *string          `json:"bank"`
	Category *json.RawMessage `json:"category"`
}

func decodeJSON(r io.Reader) ([]Row, error) {
	var raw []jsonRow
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding json: %w", err)
	}
	rows := make([]Row, 0, len(raw))
	for _, jr := range raw {
		rows = append(rows, Row{
			Date:     jr.Date,
			Item:     jr.Item,
			Cost:     scalar(jr.Cost),
			Bank:     jr.Bank,
			Category: scalar(jr.Category),
		})
	}
	return rows, nil
}

// scalar renders a JSON string or number as text. null counts as absent.
func scalar(m *json.RawMessage) *string {
	if m == nil || string(*m) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(*m, &s); err == nil {
		return &s
	}
	return ptr(string(*m))
}

func encodeXLSX(w io.Writer, rows []Row) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing workbook: %w", cerr)
		}
	}()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	header := make([]any, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []any{deref(r.Date), deref(r.Item), numeric(r.Cost), deref(r.Bank), numeric(r.Category)}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("writing row %d: %w", i+1, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// numeric stores numbers as numeric cells so spreadsheets can sum them.
func numeric(s *string) any {
	if s == nil || *s == "" {
		return ""
	}
	if f, err := strconv.ParseFloat(*s, 64); err == nil {
		return f
	}
	return *s
}

func decodeXLSX(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	records, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}

	var rows []Row
	for i, record := range records {
		if i == 0 {
			continue
		}
		rows = append(rows, fromCells(record))
	}
	return rows, nil
}
