// Package importer reads lead rows from uploaded .xlsx and .csv files.
package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/telecrm/backend/internal/models"
)

var (
	ErrUnsupportedFormat = errors.New("only .xlsx and .csv files are supported")
	ErrEmptyFile         = errors.New("file has no header row")
	ErrMissingColumns    = errors.New("file must contain name and phone columns")
)

const TemplateFilename = "sample-students.xlsx"

var (
	nameAliases        = []string{"name", "student name", "full name", "student"}
	emailAliases       = []string{"email", "e-mail", "email address", "mail"}
	phoneAliases       = []string{"phone", "mobile", "phone number", "mobile number", "contact", "contact number"}
	descriptionAliases = []string{"description", "notes", "note", "remarks", "comment"}
)

type Row struct {
	Line        int
	Name        string
	Email       string
	Phone       string
	Description string
}

// Lead turns the row into a new pending, unassigned lead.
func (r Row) Lead(addedBy string) models.Lead {
	return models.Lead{
		ID:          uuid.NewString(),
		Name:        r.Name,
		Email:       r.Email,
		Phone:       r.Phone,
		Description: r.Description,
		Status:      models.StatusPending,
		AddedBy:     addedBy,
	}
}

type RowError struct {
	Line   int    `json:"row"`
	Reason string `json:"reason"`
}

func (e RowError) String() string {
	return fmt.Sprintf("row %d: %s", e.Line, e.Reason)
}

type Parser struct {
	validate *validator.Validate
}

func NewParser(v *validator.Validate) *Parser {
	if v == nil {
		v = validator.New()
	}
	return &Parser{validate: v}
}

// Parse reads every data row of the upload. Rows that cannot become a lead
// are reported with their 1-based line number and left out of the result.
func (p *Parser) Parse(filename string, r io.Reader) ([]Row, []RowError, error) {
	var (
		records []record
		err     error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		records, err = readXLSX(r)
	case ".csv":
		records, err = readCSV(r)
	default:
		return nil, nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, ErrEmptyFile
	}

	index := headerIndex(records[0].fields)
	if !hasAny(index, nameAliases) || !hasAny(index, phoneAliases) {
		return nil, nil, ErrMissingColumns
	}

	var (
		rows   []Row
		errs   []RowError
		phones = map[string]int{}
	)
	for _, r := range records[1:] {
		line, rec := r.line, r.fields
		if blank(rec) {
			continue
		}
		row := Row{
			Line:        line,
			Name:        getFieldAny(rec, index, nameAliases...),
			Email:       getFieldAny(rec, index, emailAliases...),
			Phone:       getFieldAny(rec, index, phoneAliases...),
			Description: getFieldAny(rec, index, descriptionAliases...),
		}
		switch {
		case row.Name == "":
			errs = append(errs, RowError{Line: line, Reason: "name is required"})
			continue
		case row.Phone == "":
			errs = append(errs, RowError{Line: line, Reason: "phone is required"})
			continue
		case p.validate.Var(row.Email, "omitempty,email") != nil:
			errs = append(errs, RowError{Line: line, Reason: fmt.Sprintf("invalid email %q", row.Email)})
			continue
		}
		if first, dup := phones[row.Phone]; dup {
			errs = append(errs, RowError{Line: line, Reason: fmt.Sprintf("duplicate phone, first seen on row %d", first)})
			continue
		}
		phones[row.Phone] = line
		rows = append(rows, row)
	}
	return rows, errs, nil
}

// record is one spreadsheet row with its 1-based line number in the file.
type record struct {
	line   int
	fields []string
}

func readXLSX(r io.Reader) ([]record, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	out := make([]record, 0, len(rows))
	for i, row := range rows {
		out = append(out, record{line: i + 1, fields: row})
	}
	return out, nil
}

// readCSV keeps the source line of every record; encoding/csv skips blank
// lines, so the record index alone is not the row number.
func readCSV(r io.Reader) ([]record, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var out []record
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line, _ := reader.FieldPos(0)
		out = append(out, record{line: line, fields: fields})
	}
	return out, nil
}

// SampleTemplate builds the downloadable upload template.
func SampleTemplate() ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Students"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(sheet, "A1", &[]any{"name", "email", "phone", "description"}); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(sheet, "A2", &[]any{"Jane Doe", "jane@example.com", "+1-555-0100", "Interested in the evening batch"}); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(sheet, "A", "D", 24); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func headerIndex(headers []string) map[string]int {
	idx := map[string]int{}
	for i, h := range headers {
		key := normalizeHeader(h)
		if _, ok := idx[key]; !ok {
			idx[key] = i
		}
	}
	return idx
}

func hasAny(idx map[string]int, names []string) bool {
	for _, n := range names {
		if _, ok := idx[n]; ok {
			return true
		}
	}
	return false
}

func getField(rec []string, idx map[string]int, name string) string {
	pos, ok := idx[name]
	if !ok || pos >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[pos])
}

func getFieldAny(rec []string, idx map[string]int, names ...string) string {
	for _, name := range names {
		if v := getField(rec, idx, normalizeHeader(name)); v != "" {
			return v
		}
	}
	return ""
}

func normalizeHeader(h string) string {
	h = strings.ReplaceAll(h, "\ufeff", "")
	h = strings.ReplaceAll(h, "_", " ")
	return strings.ToLower(strings.TrimSpace(h))
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
