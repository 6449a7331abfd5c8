package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/telecrm/backend/internal/auth"
	"github.com/telecrm/backend/internal/db"
	"github.com/telecrm/backend/internal/models"
)

type CreateLeadRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Email       string `json:"email" validate:"omitempty,email"`
	Phone       string `json:"phone" validate:"required,max=32"`
	Description string `json:"description" validate:"max=2000"`
}

// UpdateLeadRequest is a partial update. AssignedTo is kept raw so an
// explicit null (unassign) can be told apart from an absent field.
type UpdateLeadRequest struct {
	Name        *string         `json:"name" validate:"omitempty,min=1,max=200"`
	Email       *string         `json:"email" validate:"omitempty,email"`
	Phone       *string         `json:"phone" validate:"omitempty,min=1,max=32"`
	Description *string         `json:"description" validate:"omitempty,max=2000"`
	Status      *string         `json:"status"`
	AssignedTo  json.RawMessage `json:"assignedTo" swaggertype:"string"`
}

// @Summary List leads
// @Tags students
// @Produce json
// @Param status query string false "pending, approved or rejected"
// @Param assigned query bool false "assignment filter"
// @Param assignedTo query string false "telecaller id"
// @Param from query string false "created on or after (YYYY-MM-DD)"
// @Param to query string false "created on or before (YYYY-MM-DD)"
// @Success 200 {array} models.Lead
// @Router /api/students [get]
func (h *Handler) ListStudents(c *gin.Context) {
	filter, ok := leadFilter(c)
	if !ok {
		return
	}
	filter.AssignedTo = strings.TrimSpace(c.Query("assignedTo"))
	h.listLeads(c, filter)
}

// @Summary Leads assigned to the caller
// @Tags students
// @Produce json
// @Param status query string false "pending, approved or rejected"
// @Success 200 {array} models.Lead
// @Router /api/assigned-students [get]
func (h *Handler) AssignedStudents(c *gin.Context) {
	filter, ok := leadFilter(c)
	if !ok {
		return
	}
	filter.AssignedTo = session(c).UserID
	filter.Assigned = nil
	h.listLeads(c, filter)
}

func (h *Handler) listLeads(c *gin.Context, filter models.LeadFilter) {
	leads, err := h.Store.ListLeads(c.Request.Context(), filter)
	if err != nil {
		h.storeError(c, "Failed to list leads", err)
		return
	}
	c.JSON(http.StatusOK, leads)
}

func leadFilter(c *gin.Context) (models.LeadFilter, bool) {
	var f models.LeadFilter
	if raw := c.Query("status"); raw != "" {
		s, ok := models.ParseStatus(raw)
		if !ok {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "status must be pending, approved or rejected", nil)
			return f, false
		}
		f.Status = s
	}
	assigned, err := parseBool(c.Query("assigned"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "assigned must be true or false", nil)
		return f, false
	}
	f.Assigned = assigned
	if f.CreatedFrom, err = parseDate(c.Query("from"), false); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "from must be YYYY-MM-DD or RFC3339", nil)
		return f, false
	}
	if f.CreatedTo, err = parseDate(c.Query("to"), true); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "to must be YYYY-MM-DD or RFC3339", nil)
		return f, false
	}
	return f, true
}

// @Summary Add a lead
// @Tags students
// @Accept json
// @Produce json
// @Param body body CreateLeadRequest true "lead"
// @Success 201 {object} models.Lead
// @Router /api/students [post]
func (h *Handler) CreateStudent(c *gin.Context) {
	var req CreateLeadRequest
	if !h.bind(c, &req) {
		return
	}
	lead := models.Lead{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(req.Name),
		Email:       strings.TrimSpace(req.Email),
		Phone:       strings.TrimSpace(req.Phone),
		Description: strings.TrimSpace(req.Description),
		Status:      models.StatusPending,
		AddedBy:     session(c).UserID,
	}
	if err := h.Store.CreateLead(c.Request.Context(), &lead); err != nil {
		h.storeError(c, "Failed to create lead", err)
		return
	}
	c.JSON(http.StatusCreated, lead)
}

// @Summary Update a lead
// @Description Admins may edit any field and change the assignment. Telecallers may only set the status of their own leads.
// @Tags students
// @Accept json
// @Produce json
// @Param id path string true "lead id"
// @Param body body UpdateLeadRequest true "fields to change"
// @Success 200 {object} models.Lead
// @Router /api/students/{id} [put]
func (h *Handler) UpdateStudent(c *gin.Context) {
	id := c.Param("id")
	var req UpdateLeadRequest
	if !h.bind(c, &req) {
		return
	}

	patch := models.LeadPatch{Name: req.Name, Email: req.Email, Phone: req.Phone, Description: req.Description}
	if req.Status != nil {
		s, ok := models.ParseStatus(*req.Status)
		if !ok {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "status must be pending, approved or rejected", nil)
			return
		}
		patch.Status = &s
	}
	assignTo, changeAssignment, err := parseAssignedTo(req.AssignedTo)
	if err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "assignedTo must be a telecaller id or null", nil)
		return
	}
	if patch.IsEmpty() && !changeAssignment {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Nothing to update", nil)
		return
	}

	ctx := c.Request.Context()
	lead, err := h.Store.GetLead(ctx, id)
	if err != nil {
		h.storeError(c, "Failed to load lead", err)
		return
	}

	sess := session(c)
	owner := ""
	if !auth.Allowed(sess.Role, auth.OpUpdateLead) {
		owns := lead.AssignedTo != nil && *lead.AssignedTo == sess.UserID
		if !patch.OnlyStatus() || changeAssignment || !owns {
			writeError(c, http.StatusForbidden, "FORBIDDEN", "Telecallers can only update the status of their own leads", nil)
			return
		}
		owner = sess.UserID
	}
	if changeAssignment && !auth.Allowed(sess.Role, auth.OpAssign) {
		writeError(c, http.StatusForbidden, "FORBIDDEN", "Your role cannot change assignments", nil)
		return
	}

	// The assignment goes first so a rejected assignment leaves the lead untouched.
	if changeAssignment {
		switch {
		case assignTo == "":
			lead, err = h.Engine.UnassignOne(ctx, id)
		case lead.IsAssigned():
			lead, err = h.Engine.Reassign(ctx, id, assignTo)
		default:
			lead, err = h.Engine.ManualAssign(ctx, id, assignTo)
		}
		if err != nil {
			h.writeEngineError(c, err, nil)
			return
		}
	}

	if !patch.IsEmpty() {
		var updated models.Lead
		if owner != "" {
			updated, err = h.Store.UpdateOwnedLead(ctx, id, owner, patch)
			if errors.Is(err, db.ErrConflict) {
				writeError(c, http.StatusForbidden, "FORBIDDEN", "Lead is no longer assigned to you", nil)
				return
			}
		} else {
			updated, err = h.Store.UpdateLead(ctx, id, patch)
		}
		if err != nil {
			if changeAssignment {
				h.Logger.Warn().Err(err).Str("lead_id", id).Msg("assignment saved but field update failed")
				writeError(c, statusOf(err), "PARTIAL_UPDATE", "Assignment was saved but the other fields were not",
					gin.H{"student": lead, "cause": err.Error()})
				return
			}
			h.storeError(c, "Failed to update lead", err)
			return
		}
		lead = updated
	}
	c.JSON(http.StatusOK, lead)
}

// parseAssignedTo reports whether the assignment should change and to whom;
// an empty id means unassign.
func parseAssignedTo(raw json.RawMessage) (string, bool, error) {
	if len(raw) == 0 {
		return "", false, nil
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", true, nil
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", false, err
	}
	id = strings.TrimSpace(id)
	return id, true, nil
}

// @Summary Delete a lead
// @Tags students
// @Param id path string true "lead id"
// @Success 200 {object} map[string]any
// @Router /api/students/{id} [delete]
func (h *Handler) DeleteStudent(c *gin.Context) {
	id := c.Param("id")
	err := h.Store.DeleteLead(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Lead not found", nil)
		return
	}
	if err != nil {
		h.storeError(c, "Failed to delete lead", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Lead deleted", "id": id})
}
