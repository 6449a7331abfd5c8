package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/telecrm/backend/internal/db"
	"github.com/telecrm/backend/internal/events"
	"github.com/telecrm/backend/internal/metrics"
	"github.com/telecrm/backend/internal/models"
)

type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeManual   Mode = "manual"
	ModeBulk     Mode = "bulk"
	ModeReassign Mode = "reassign"
	ModeOne      Mode = "one"
	ModePending  Mode = "pending"
)

// LeadStore is the slice of the lead store the engine reads and writes.
// The assign/reassign/unassign writes must be conditional: they return
// db.ErrConflict when the lead no longer matches the expected owner state.
type LeadStore interface {
	ListLeads(ctx context.Context, f models.LeadFilter) ([]models.Lead, error)
	GetLead(ctx context.Context, id string) (models.Lead, error)
	AssignLead(ctx context.Context, leadID, telecallerID string) (models.Lead, error)
	ReassignLead(ctx context.Context, leadID, from, to string) (models.Lead, error)
	UnassignLead(ctx context.Context, leadID string) (models.Lead, error)
}

type UserDirectory interface {
	ListTelecallers(ctx context.Context) ([]models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
}

type TelecallerDelta struct {
	TelecallerID string `json:"telecallerId"`
	Username     string `json:"username"`
	Added        int    `json:"added"`
	Total        int    `json:"total"`
}

type AssignSummary struct {
	Message       string            `json:"message"`
	Mode          Mode              `json:"mode"`
	Requested     int               `json:"requested"`
	Assigned      int               `json:"assigned"`
	Skipped       []string          `json:"skipped,omitempty"`
	PerTelecaller []TelecallerDelta `json:"perTelecaller"`
}

type UnassignSummary struct {
	Message    string   `json:"message"`
	Mode       Mode     `json:"mode"`
	Requested  int      `json:"requested"`
	Unassigned int      `json:"unassigned"`
	LeadIDs    []string `json:"leadIds"`
	Skipped    []string `json:"skipped,omitempty"`
}

// PendingFilter narrows UnassignPending to one telecaller and/or a creation window.
type PendingFilter struct {
	TelecallerID string
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
}

// Engine decides and executes lead assignment. It keeps no state between
// calls; every operation reads a fresh snapshot before issuing any write.
type Engine struct {
	Leads        LeadStore
	Users        UserDirectory
	Events       events.Publisher
	Logger       zerolog.Logger
	StoreTimeout time.Duration
}

func NewEngine(leads LeadStore, users UserDirectory, publisher events.Publisher, logger zerolog.Logger, storeTimeout time.Duration) *Engine {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Engine{
		Leads:        leads,
		Users:        users,
		Events:       publisher,
		Logger:       logger.With().Str("component", "assignment").Logger(),
		StoreTimeout: storeTimeout,
	}
}

func storeCall[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}

// AutoAssign distributes every unassigned lead over all telecallers.
func (e *Engine) AutoAssign(ctx context.Context) (AssignSummary, error) {
	telecallers, err := storeCall(ctx, e.StoreTimeout, e.Users.ListTelecallers)
	if err != nil {
		return AssignSummary{Mode: ModeAuto}, e.fail(ModeAuto, transportError("list telecallers", err))
	}
	if len(telecallers) == 0 {
		return AssignSummary{Mode: ModeAuto}, e.fail(ModeAuto, newError(CodeNoTelecallers, "No telecallers available for assignment"))
	}
	roster := sortRoster(telecallers)

	leads, err := e.unassignedLeads(ctx)
	if err != nil {
		return AssignSummary{Mode: ModeAuto}, e.fail(ModeAuto, err)
	}
	if len(leads) == 0 {
		return AssignSummary{
			Message:       "No unassigned leads to assign",
			Mode:          ModeAuto,
			PerTelecaller: deltas(roster, nil),
		}, nil
	}

	plan, err := PlanAuto(leads, roster)
	if err != nil {
		return AssignSummary{Mode: ModeAuto}, e.fail(ModeAuto, err)
	}
	return e.executeAssign(ctx, ModeAuto, plan, roster)
}

// ManualAssign gives one unassigned lead to one telecaller.
func (e *Engine) ManualAssign(ctx context.Context, studentID, telecallerID string) (models.Lead, error) {
	studentID, telecallerID = strings.TrimSpace(studentID), strings.TrimSpace(telecallerID)
	if studentID == "" || telecallerID == "" {
		return models.Lead{}, e.fail(ModeManual, newError(CodeInvalidSelection, "Please select both a lead and a telecaller"))
	}

	lead, err := e.lead(ctx, studentID)
	if err != nil {
		return models.Lead{}, e.fail(ModeManual, err)
	}
	telecaller, err := e.telecaller(ctx, telecallerID)
	if err != nil {
		return models.Lead{}, e.fail(ModeManual, err)
	}
	if lead.IsAssigned() {
		return models.Lead{}, e.fail(ModeManual, newError(CodeAlreadyAssigned, "Lead %s is already assigned", lead.ID))
	}

	updated, err := storeCall(ctx, e.StoreTimeout, func(ctx context.Context) (models.Lead, error) {
		return e.Leads.AssignLead(ctx, lead.ID, telecaller.ID)
	})
	switch {
	case errors.Is(err, db.ErrConflict):
		return models.Lead{}, e.fail(ModeManual, newError(CodeAlreadyAssigned, "Lead %s is already assigned", lead.ID))
	case errors.Is(err, db.ErrNotFound):
		return models.Lead{}, e.fail(ModeManual, newError(CodeNotFound, "Lead %s not found", lead.ID))
	case err != nil:
		return models.Lead{}, e.fail(ModeManual, transportError("assign lead", err))
	}

	e.committedAssign(ctx, ModeManual, []events.LeadEvent{leadEvent(updated.ID, telecaller.ID, ModeManual)})
	return updated, nil
}

// BulkAssign gives the count oldest unassigned leads to one telecaller.
func (e *Engine) BulkAssign(ctx context.Context, count int, telecallerID string) (AssignSummary, error) {
	telecallerID = strings.TrimSpace(telecallerID)
	if count <= 0 {
		return AssignSummary{Mode: ModeBulk}, e.fail(ModeBulk, newError(CodeInvalidCount, "Count must be a positive number, got %d", count))
	}
	if telecallerID == "" {
		return AssignSummary{Mode: ModeBulk}, e.fail(ModeBulk, newError(CodeInvalidSelection, "Please select a telecaller"))
	}

	telecaller, err := e.telecaller(ctx, telecallerID)
	if err != nil {
		return AssignSummary{Mode: ModeBulk}, e.fail(ModeBulk, err)
	}
	leads, err := e.unassignedLeads(ctx)
	if err != nil {
		return AssignSummary{Mode: ModeBulk}, e.fail(ModeBulk, err)
	}

	plan, err := PlanBulk(leads, count, telecaller)
	if err != nil {
		return AssignSummary{Mode: ModeBulk}, e.fail(ModeBulk, err)
	}
	return e.executeAssign(ctx, ModeBulk, plan, []models.User{telecaller})
}

// Reassign moves an assigned lead to another telecaller. The write only
// lands if the lead still belongs to the owner seen in the snapshot.
func (e *Engine) Reassign(ctx context.Context, studentID, telecallerID string) (models.Lead, error) {
	studentID, telecallerID = strings.TrimSpace(studentID), strings.TrimSpace(telecallerID)
	if studentID == "" || telecallerID == "" {
		return models.Lead{}, e.fail(ModeReassign, newError(CodeInvalidSelection, "Please select both a lead and a telecaller"))
	}

	lead, err := e.lead(ctx, studentID)
	if err != nil {
		return models.Lead{}, e.fail(ModeReassign, err)
	}
	telecaller, err := e.telecaller(ctx, telecallerID)
	if err != nil {
		return models.Lead{}, e.fail(ModeReassign, err)
	}
	if !lead.IsAssigned() {
		return models.Lead{}, e.fail(ModeReassign, newError(CodeInvalidSelection, "Lead %s is not assigned; use manual assignment", lead.ID))
	}
	if *lead.AssignedTo == telecaller.ID {
		return models.Lead{}, e.fail(ModeReassign, newError(CodeAlreadyAssigned, "Lead %s is already assigned to %s", lead.ID, telecaller.Username))
	}

	from := *lead.AssignedTo
	updated, err := storeCall(ctx, e.StoreTimeout, func(ctx context.Context) (models.Lead, error) {
		return e.Leads.ReassignLead(ctx, lead.ID, from, telecaller.ID)
	})
	switch {
	case errors.Is(err, db.ErrConflict):
		return models.Lead{}, e.fail(ModeReassign, newError(CodeAlreadyAssigned, "Lead %s changed owner while reassigning", lead.ID))
	case errors.Is(err, db.ErrNotFound):
		return models.Lead{}, e.fail(ModeReassign, newError(CodeNotFound, "Lead %s not found", lead.ID))
	case err != nil:
		return models.Lead{}, e.fail(ModeReassign, transportError("reassign lead", err))
	}

	e.committedUnassign(ctx, ModeReassign, []events.LeadEvent{leadEvent(updated.ID, from, ModeReassign)})
	e.committedAssign(ctx, ModeReassign, []events.LeadEvent{leadEvent(updated.ID, telecaller.ID, ModeReassign)})
	return updated, nil
}

// UnassignOne returns a single assigned, undecided lead to the pool.
func (e *Engine) UnassignOne(ctx context.Context, studentID string) (models.Lead, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return models.Lead{}, e.fail(ModeOne, newError(CodeInvalidSelection, "Please select a lead"))
	}

	lead, err := e.lead(ctx, studentID)
	if err != nil {
		return models.Lead{}, e.fail(ModeOne, err)
	}
	if !lead.IsPendingAssignment() {
		return models.Lead{}, e.fail(ModeOne, notPendingError(studentID))
	}
	previous := *lead.AssignedTo

	updated, err := storeCall(ctx, e.StoreTimeout, func(ctx context.Context) (models.Lead, error) {
		return e.Leads.UnassignLead(ctx, studentID)
	})
	switch {
	case errors.Is(err, db.ErrConflict), errors.Is(err, db.ErrNotFound):
		return models.Lead{}, e.fail(ModeOne, notPendingError(studentID))
	case err != nil:
		return models.Lead{}, e.fail(ModeOne, transportError("unassign lead", err))
	}

	e.committedUnassign(ctx, ModeOne, []events.LeadEvent{leadEvent(updated.ID, previous, ModeOne)})
	return updated, nil
}

// UnassignBulk validates every id against one snapshot and rejects the whole
// batch if any id is not an assigned, undecided lead. Writes that then lose a
// race are skipped and reported.
func (e *Engine) UnassignBulk(ctx context.Context, studentIDs []string) (UnassignSummary, error) {
	ids, err := normalizeIDs(studentIDs)
	if err != nil {
		return UnassignSummary{Mode: ModeBulk}, e.fail(ModeBulk, err)
	}

	leads, err := storeCall(ctx, e.StoreTimeout, func(ctx context.Context) ([]models.Lead, error) {
		return e.Leads.ListLeads(ctx, models.LeadFilter{IDs: ids})
	})
	if err != nil {
		return UnassignSummary{Mode: ModeBulk}, e.fail(ModeBulk, transportError("list leads", err))
	}

	byID := make(map[string]models.Lead, len(leads))
	for _, l := range leads {
		byID[l.ID] = l
	}
	var invalid []string
	selected := make([]models.Lead, 0, len(ids))
	for _, id := range ids {
		l, ok := byID[id]
		if !ok || !l.IsPendingAssignment() {
			invalid = append(invalid, id)
			continue
		}
		selected = append(selected, l)
	}
	if len(invalid) > 0 {
		return UnassignSummary{Mode: ModeBulk, Requested: len(ids)}, e.fail(ModeBulk, &Error{
			Code:    CodeNotFound,
			Message: fmt.Sprintf("%d of %d leads are not assigned pending leads: %s", len(invalid), len(ids), strings.Join(invalid, ", ")),
		})
	}
	return e.executeUnassign(ctx, ModeBulk, selected)
}

// UnassignPending returns every assigned lead whose status is still pending
// to the pool, optionally narrowed by telecaller and creation date.
func (e *Engine) UnassignPending(ctx context.Context, f PendingFilter) (UnassignSummary, error) {
	assigned := true
	filter := models.LeadFilter{
		Status:      models.StatusPending,
		Assigned:    &assigned,
		AssignedTo:  strings.TrimSpace(f.TelecallerID),
		CreatedFrom: f.CreatedFrom,
		CreatedTo:   f.CreatedTo,
	}
	leads, err := storeCall(ctx, e.StoreTimeout, func(ctx context.Context) ([]models.Lead, error) {
		return e.Leads.ListLeads(ctx, filter)
	})
	if err != nil {
		return UnassignSummary{Mode: ModePending}, e.fail(ModePending, transportError("list leads", err))
	}
	if len(leads) == 0 {
		return UnassignSummary{Message: "No pending assigned leads to unassign", Mode: ModePending, LeadIDs: []string{}}, nil
	}
	return e.executeUnassign(ctx, ModePending, leads)
}

func (e *Engine) executeAssign(ctx context.Context, mode Mode, plan []Allocation, roster []models.User) (AssignSummary, error) {
	summary := AssignSummary{Mode: mode, Requested: len(plan)}
	added := map[string]int{}
	committed := make([]events.LeadEvent, 0, len(plan))

	var failure error
	for _, a := range plan {
		_, err := storeCall(ctx, e.StoreTimeout, func(ctx context.Context) (models.Lead, error) {
			return e.Leads.AssignLead(ctx, a.Lead.ID, a.Telecaller.ID)
		})
		if errors.Is(err, db.ErrConflict) || errors.Is(err, db.ErrNotFound) {
			summary.Skipped = append(summary.Skipped, a.Lead.ID)
			continue
		}
		if err != nil {
			failure = transportError("assign lead "+a.Lead.ID, err)
			break
		}
		summary.Assigned++
		added[a.Telecaller.ID]++
		committed = append(committed, leadEvent(a.Lead.ID, a.Telecaller.ID, mode))
	}

	summary.PerTelecaller = deltas(roster, added)
	summary.Message = assignMessage(summary, failure != nil)
	e.committedAssign(ctx, mode, committed)

	if failure != nil {
		return summary, e.fail(mode, failure)
	}
	e.Logger.Info().
		Str("mode", string(mode)).
		Int("requested", summary.Requested).
		Int("assigned", summary.Assigned).
		Int("skipped", len(summary.Skipped)).
		Msg("leads assigned")
	return summary, nil
}

func (e *Engine) executeUnassign(ctx context.Context, mode Mode, leads []models.Lead) (UnassignSummary, error) {
	summary := UnassignSummary{Mode: mode, Requested: len(leads), LeadIDs: []string{}}
	committed := make([]events.LeadEvent, 0, len(leads))

	var failure error
	for _, l := range leads {
		_, err := storeCall(ctx, e.StoreTimeout, func(ctx context.Context) (models.Lead, error) {
			return e.Leads.UnassignLead(ctx, l.ID)
		})
		if errors.Is(err, db.ErrConflict) || errors.Is(err, db.ErrNotFound) {
			summary.Skipped = append(summary.Skipped, l.ID)
			continue
		}
		if err != nil {
			failure = transportError("unassign lead "+l.ID, err)
			break
		}
		summary.Unassigned++
		summary.LeadIDs = append(summary.LeadIDs, l.ID)
		owner := ""
		if l.AssignedTo != nil {
			owner = *l.AssignedTo
		}
		committed = append(committed, leadEvent(l.ID, owner, mode))
	}

	summary.Message = unassignMessage(summary, failure != nil)
	e.committedUnassign(ctx, mode, committed)

	if failure != nil {
		return summary, e.fail(mode, failure)
	}
	e.Logger.Info().
		Str("mode", string(mode)).
		Int("requested", summary.Requested).
		Int("unassigned", summary.Unassigned).
		Int("skipped", len(summary.Skipped)).
		Msg("leads unassigned")
	return summary, nil
}

func (e *Engine) unassignedLeads(ctx context.Context) ([]models.Lead, error) {
	unassigned := false
	leads, err := storeCall(ctx, e.StoreTimeout, func(ctx context.Context) ([]models.Lead, error) {
		return e.Leads.ListLeads(ctx, models.LeadFilter{Assigned: &unassigned})
	})
	if err != nil {
		return nil, transportError("list unassigned leads", err)
	}
	return leads, nil
}

func (e *Engine) lead(ctx context.Context, id string) (models.Lead, error) {
	lead, err := storeCall(ctx, e.StoreTimeout, func(ctx context.Context) (models.Lead, error) {
		return e.Leads.GetLead(ctx, id)
	})
	if errors.Is(err, db.ErrNotFound) {
		return models.Lead{}, newError(CodeNotFound, "Lead %s not found", id)
	}
	if err != nil {
		return models.Lead{}, transportError("get lead", err)
	}
	return lead, nil
}

func (e *Engine) telecaller(ctx context.Context, id string) (models.User, error) {
	user, err := storeCall(ctx, e.StoreTimeout, func(ctx context.Context) (models.User, error) {
		return e.Users.GetUser(ctx, id)
	})
	if errors.Is(err, db.ErrNotFound) || (err == nil && user.UserType != models.RoleTeleCaller) {
		return models.User{}, newError(CodeNotFound, "Telecaller %s not found", id)
	}
	if err != nil {
		return models.User{}, transportError("get telecaller", err)
	}
	return user, nil
}

func (e *Engine) committedAssign(ctx context.Context, mode Mode, evs []events.LeadEvent) {
	if len(evs) == 0 {
		return
	}
	metrics.RecordAssigned(string(mode), len(evs))
	if err := e.Events.LeadsAssigned(ctx, evs); err != nil {
		e.Logger.Warn().Err(err).Str("mode", string(mode)).Msg("failed to publish assignment events")
	}
}

func (e *Engine) committedUnassign(ctx context.Context, mode Mode, evs []events.LeadEvent) {
	if len(evs) == 0 {
		return
	}
	metrics.RecordUnassigned(string(mode), len(evs))
	if err := e.Events.LeadsUnassigned(ctx, evs); err != nil {
		e.Logger.Warn().Err(err).Str("mode", string(mode)).Msg("failed to publish unassignment events")
	}
}

func (e *Engine) fail(mode Mode, err error) error {
	code := CodeOf(err)
	metrics.RecordAssignmentError(string(code))
	ev := e.Logger.Info()
	if code == CodeTransport {
		ev = e.Logger.Error()
	}
	ev.Err(err).Str("mode", string(mode)).Str("code", string(code)).Msg("assignment operation failed")
	return err
}

func leadEvent(leadID, telecallerID string, mode Mode) events.LeadEvent {
	return events.LeadEvent{
		LeadID:       leadID,
		TelecallerID: telecallerID,
		Mode:         string(mode),
		OccurredAt:   time.Now().UTC(),
	}
}

func notPendingError(id string) *Error {
	return newError(CodeNotFound, "Lead %s is not an assigned pending lead", id)
}

func normalizeIDs(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, newError(CodeInvalidSelection, "No leads selected")
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, id := range raw {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, newError(CodeInvalidSelection, "Lead ids must not be blank")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func deltas(roster []models.User, added map[string]int) []TelecallerDelta {
	out := make([]TelecallerDelta, 0, len(roster))
	for _, t := range roster {
		out = append(out, TelecallerDelta{
			TelecallerID: t.ID,
			Username:     t.Username,
			Added:        added[t.ID],
			Total:        t.AssignedCount + added[t.ID],
		})
	}
	return out
}

func assignMessage(s AssignSummary, failed bool) string {
	var msg string
	switch {
	case failed:
		msg = fmt.Sprintf("Assigned %d of %d leads before the store failed", s.Assigned, s.Requested)
	case s.Mode == ModeBulk && len(s.PerTelecaller) == 1:
		msg = fmt.Sprintf("Assigned %d leads to %s", s.Assigned, s.PerTelecaller[0].Username)
	default:
		receiving := 0
		for _, d := range s.PerTelecaller {
			if d.Added > 0 {
				receiving++
			}
		}
		msg = fmt.Sprintf("Assigned %d leads across %d telecallers", s.Assigned, receiving)
	}
	if len(s.Skipped) > 0 {
		msg += fmt.Sprintf(" (%d skipped, changed concurrently)", len(s.Skipped))
	}
	return msg
}

func unassignMessage(s UnassignSummary, failed bool) string {
	msg := fmt.Sprintf("Unassigned %d leads", s.Unassigned)
	if failed {
		msg = fmt.Sprintf("Unassigned %d of %d leads before the store failed", s.Unassigned, s.Requested)
	}
	if len(s.Skipped) > 0 {
		msg += fmt.Sprintf(" (%d skipped, changed concurrently)", len(s.Skipped))
	}
	return msg
}
