package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/telecrm/backend/internal/service"
)

// Identifier fields carry no validate tags: blank ids are the engine's
// INVALID_SELECTION, not a generic validation failure.

type ManualAssignRequest struct {
	StudentID    string `json:"studentId"`
	TelecallerID string `json:"telecallerId"`
}

type BulkAssignRequest struct {
	Count        int    `json:"count"`
	TelecallerID string `json:"telecallerId"`
}

type UnassignRequest struct {
	StudentID string `json:"studentId"`
}

type UnassignBulkRequest struct {
	StudentIDs []string `json:"studentIds"`
}

type UnassignPendingRequest struct {
	TelecallerID string `json:"telecallerId"`
	From         string `json:"from"`
	To           string `json:"to"`
}

// @Summary Distribute all unassigned leads
// @Tags assignment
// @Produce json
// @Success 200 {object} service.AssignSummary
// @Failure 422 {object} map[string]any
// @Failure 502 {object} map[string]any
// @Router /api/assign-automated [post]
func (h *Handler) AssignAutomated(c *gin.Context) {
	summary, err := h.Engine.AutoAssign(c.Request.Context())
	if err != nil {
		h.writeEngineError(c, err, partial(err, summary))
		return
	}
	c.JSON(http.StatusOK, summary)
}

// @Summary Assign one lead to a telecaller
// @Tags assignment
// @Accept json
// @Produce json
// @Param body body ManualAssignRequest true "selection"
// @Success 200 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Router /api/assign-manual [post]
func (h *Handler) AssignManual(c *gin.Context) {
	var req ManualAssignRequest
	if !h.bind(c, &req) {
		return
	}
	lead, err := h.Engine.ManualAssign(c.Request.Context(), req.StudentID, req.TelecallerID)
	if err != nil {
		h.writeEngineError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Lead assigned successfully", "student": lead})
}

// @Summary Assign the oldest unassigned leads to one telecaller
// @Tags assignment
// @Accept json
// @Produce json
// @Param body body BulkAssignRequest true "count and telecaller"
// @Success 200 {object} service.AssignSummary
// @Router /api/assign-bulk [post]
func (h *Handler) AssignBulk(c *gin.Context) {
	var req BulkAssignRequest
	if !h.bind(c, &req) {
		return
	}
	summary, err := h.Engine.BulkAssign(c.Request.Context(), req.Count, req.TelecallerID)
	if err != nil {
		h.writeEngineError(c, err, partial(err, summary))
		return
	}
	c.JSON(http.StatusOK, summary)
}

// @Summary Move an assigned lead to another telecaller
// @Tags assignment
// @Accept json
// @Produce json
// @Param body body ManualAssignRequest true "selection"
// @Success 200 {object} map[string]any
// @Router /api/reassign [post]
func (h *Handler) Reassign(c *gin.Context) {
	var req ManualAssignRequest
	if !h.bind(c, &req) {
		return
	}
	lead, err := h.Engine.Reassign(c.Request.Context(), req.StudentID, req.TelecallerID)
	if err != nil {
		h.writeEngineError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Lead reassigned successfully", "student": lead})
}

// @Summary Return one assigned pending lead to the pool
// @Tags assignment
// @Accept json
// @Produce json
// @Param body body UnassignRequest true "lead"
// @Success 200 {object} map[string]any
// @Router /api/unassign-student [post]
func (h *Handler) UnassignStudent(c *gin.Context) {
	var req UnassignRequest
	if !h.bind(c, &req) {
		return
	}
	lead, err := h.Engine.UnassignOne(c.Request.Context(), req.StudentID)
	if err != nil {
		h.writeEngineError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Lead unassigned successfully", "student": lead})
}

// @Summary Return a set of assigned pending leads to the pool
// @Description The whole batch is rejected when any id is not an assigned pending lead.
// @Tags assignment
// @Accept json
// @Produce json
// @Param body body UnassignBulkRequest true "lead ids"
// @Success 200 {object} service.UnassignSummary
// @Router /api/unassign-students-bulk [post]
func (h *Handler) UnassignStudentsBulk(c *gin.Context) {
	var req UnassignBulkRequest
	if !h.bind(c, &req) {
		return
	}
	summary, err := h.Engine.UnassignBulk(c.Request.Context(), req.StudentIDs)
	if err != nil {
		h.writeEngineError(c, err, partial(err, summary))
		return
	}
	c.JSON(http.StatusOK, summary)
}

// @Summary Return every assigned pending lead to the pool
// @Tags assignment
// @Accept json
// @Produce json
// @Param body body UnassignPendingRequest false "optional filters"
// @Success 200 {object} service.UnassignSummary
// @Router /api/unassign-pending [post]
func (h *Handler) UnassignPending(c *gin.Context) {
	var req UnassignPendingRequest
	if c.Request.ContentLength != 0 && !h.bind(c, &req) {
		return
	}
	from, err := parseDate(req.From, false)
	if err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "from must be YYYY-MM-DD or RFC3339", nil)
		return
	}
	to, err := parseDate(req.To, true)
	if err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "to must be YYYY-MM-DD or RFC3339", nil)
		return
	}

	summary, err := h.Engine.UnassignPending(c.Request.Context(), service.PendingFilter{
		TelecallerID: req.TelecallerID,
		CreatedFrom:  from,
		CreatedTo:    to,
	})
	if err != nil {
		h.writeEngineError(c, err, partial(err, summary))
		return
	}
	c.JSON(http.StatusOK, summary)
}

// partial returns the batch summary for a request that stopped on a
// transport failure, so the caller sees what did commit.
func partial(err error, summary any) any {
	if service.IsRetryable(err) {
		return summary
	}
	return nil
}
