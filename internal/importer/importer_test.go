package importer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/telecrm/backend/internal/models"
)

func TestParseCSVWithAliases(t *testing.T) {
	data := "\ufeffStudent Name,E-mail,Mobile,Notes\n" +
		"Asha,asha@example.com,+91-900,call after 6\n" +
		",nobody@example.com,+91-901,\n" +
		"Ravi,,,\n" +
		"\n" +
		"Meena,not-an-email,+91-902,\n" +
		"Kiran,,+91-900,\n" +
		"Joseph,,+91-903,\n"

	rows, errs, err := NewParser(nil).Parse("leads.CSV", strings.NewReader(data))
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, Row{Line: 2, Name: "Asha", Email: "asha@example.com", Phone: "+91-900", Description: "call after 6"}, rows[0])
	assert.Equal(t, "Joseph", rows[1].Name)
	assert.Equal(t, 8, rows[1].Line)

	assert.Equal(t, []RowError{
		{Line: 3, Reason: "name is required"},
		{Line: 4, Reason: "phone is required"},
		{Line: 6, Reason: `invalid email "not-an-email"`},
		{Line: 7, Reason: "duplicate phone, first seen on row 2"},
	}, errs)
	assert.Equal(t, "row 3: name is required", errs[0].String())
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Name", "Phone_Number", "Email"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"Asha", "+91-900", "asha@example.com"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A4", &[]any{"Ravi", "+91-901"}))
	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)

	rows, errs, err := NewParser(nil).Parse("upload.xlsx", &buf)
	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, rows, 2)
	assert.Equal(t, "+91-900", rows[0].Phone)
	assert.Equal(t, 4, rows[1].Line)
	assert.Equal(t, "", rows[1].Email)
}

func TestSampleTemplateParses(t *testing.T) {
	data, err := SampleTemplate()
	require.NoError(t, err)

	rows, errs, err := NewParser(nil).Parse(TemplateFilename, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, rows, 1)
	assert.Equal(t, "Jane Doe", rows[0].Name)
}

func TestParseRejectsFile(t *testing.T) {
	p := NewParser(nil)

	_, _, err := p.Parse("leads.xls", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, _, err = p.Parse("leads.csv", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, _, err = p.Parse("leads.csv", strings.NewReader("name,email\nAsha,a@b.co\n"))
	assert.ErrorIs(t, err, ErrMissingColumns)

	_, _, err = p.Parse("leads.xlsx", strings.NewReader("not a zip"))
	assert.Error(t, err)
}

func TestRowLead(t *testing.T) {
	l := Row{Name: "Asha", Phone: "+91-900"}.Lead("agent-1")
	assert.NotEmpty(t, l.ID)
	assert.Equal(t, models.StatusPending, l.Status)
	assert.Nil(t, l.AssignedTo)
	assert.Equal(t, "agent-1", l.AddedBy)
}
