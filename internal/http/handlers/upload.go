package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/telecrm/backend/internal/importer"
	"github.com/telecrm/backend/internal/metrics"
	"github.com/telecrm/backend/internal/models"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// multipartOverhead leaves room for part headers and boundaries on top of the file limit.
const multipartOverhead = 64 << 10

type UploadSummary struct {
	Message string   `json:"message"`
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`
}

// @Summary Bulk upload leads
// @Description Upload an .xlsx or .csv file with name, email, phone and optional description columns.
// @Tags students
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "spreadsheet"
// @Success 200 {object} UploadSummary
// @Failure 400 {object} map[string]any
// @Router /api/upload-excel [post]
func (h *Handler) UploadExcel(c *gin.Context) {
	if h.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes+multipartOverhead)
	}
	fh, err := c.FormFile("file")
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || (err == nil && h.MaxUploadBytes > 0 && fh.Size > h.MaxUploadBytes) {
		writeError(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
			fmt.Sprintf("File exceeds the %d MB limit", h.MaxUploadBytes>>20), nil)
		return
	}
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Please select a file to upload", nil)
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Could not read upload", err.Error())
		return
	}
	defer f.Close()

	rows, rowErrs, err := h.Importer.Parse(fh.Filename, f)
	switch {
	case errors.Is(err, importer.ErrUnsupportedFormat),
		errors.Is(err, importer.ErrEmptyFile),
		errors.Is(err, importer.ErrMissingColumns):
		writeError(c, http.StatusBadRequest, "INVALID_FILE", err.Error(), nil)
		return
	case err != nil:
		writeError(c, http.StatusBadRequest, "INVALID_FILE", "Could not parse file", err.Error())
		return
	}

	addedBy := session(c).UserID
	leads := make([]models.Lead, 0, len(rows))
	for _, r := range rows {
		leads = append(leads, r.Lead(addedBy))
	}
	created, err := h.Store.InsertLeads(c.Request.Context(), leads)
	if err != nil {
		h.storeError(c, "Failed to save uploaded leads", err)
		return
	}

	summary := UploadSummary{
		Created: created,
		Skipped: len(rowErrs) + len(leads) - created,
		Errors:  make([]string, 0, len(rowErrs)),
	}
	for _, e := range rowErrs {
		summary.Errors = append(summary.Errors, e.String())
	}
	if dup := len(leads) - created; dup > 0 {
		summary.Errors = append(summary.Errors, fmt.Sprintf("%d rows skipped: phone number already exists", dup))
	}
	summary.Message = fmt.Sprintf("Uploaded %d students, skipped %d", summary.Created, summary.Skipped)
	metrics.RecordImport(summary.Created, summary.Skipped)

	h.Logger.Info().
		Str("file", fh.Filename).
		Int("created", summary.Created).
		Int("skipped", summary.Skipped).
		Msg("leads uploaded")
	c.JSON(http.StatusOK, summary)
}

// @Summary Download the upload template
// @Tags students
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Success 200 {file} file
// @Router /api/sample-excel [get]
func (h *Handler) SampleExcel(c *gin.Context) {
	data, err := importer.SampleTemplate()
	if err != nil {
		h.Logger.Error().Err(err).Msg("failed to build template")
		writeError(c, http.StatusInternalServerError, "TEMPLATE_ERROR", "Failed to build template", nil)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, importer.TemplateFilename))
	c.Data(http.StatusOK, xlsxContentType, data)
}
