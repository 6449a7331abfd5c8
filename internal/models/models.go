package models

import (
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin      Role = "Admin"
	RoleAgent      Role = "Agent"
	RoleTeleCaller Role = "TeleCaller"
)

// ParseRole accepts the canonical names case-insensitively.
func ParseRole(value string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "admin":
		return RoleAdmin, true
	case "agent":
		return RoleAgent, true
	case "telecaller", "tele_caller", "tele-caller":
		return RoleTeleCaller, true
	}
	return "", false
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func ParseStatus(value string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusPending:
		return StatusPending, true
	case StatusApproved:
		return StatusApproved, true
	case StatusRejected:
		return StatusRejected, true
	}
	return "", false
}

// IsTerminal reports whether the lead outcome has been decided.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

type Lead struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	AssignedTo  *string    `json:"assignedTo"`
	AssignedAt  *time.Time `json:"assignedAt,omitempty"`
	AddedBy     string     `json:"addedBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (l Lead) IsAssigned() bool {
	return l.AssignedTo != nil && *l.AssignedTo != ""
}

// IsPendingAssignment reports an assignment still awaiting an outcome.
func (l Lead) IsPendingAssignment() bool {
	return l.IsAssigned() && !l.Status.IsTerminal()
}

type User struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	PasswordHash  string    `json:"-"`
	UserType      Role      `json:"userType"`
	AssignedCount int       `json:"assignedCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

type LeadFilter struct {
	Status      Status
	Assigned    *bool
	AssignedTo  string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	IDs         []string
	Limit       int
}

type LeadPatch struct {
	Name        *string `json:"name,omitempty"`
	Email       *string `json:"email,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *Status `json:"status,omitempty"`
}

func (p LeadPatch) IsEmpty() bool {
	return p.Name == nil && p.Email == nil && p.Phone == nil && p.Description == nil && p.Status == nil
}

// OnlyStatus reports whether the patch touches nothing but the status.
func (p LeadPatch) OnlyStatus() bool {
	return p.Status != nil && p.Name == nil && p.Email == nil && p.Phone == nil && p.Description == nil
}

type TelecallerLoad struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Assigned int    `json:"assigned"`
	Pending  int    `json:"pending"`
}

type Stats struct {
	Total       int              `json:"total"`
	Unassigned  int              `json:"unassigned"`
	ByStatus    map[Status]int   `json:"byStatus"`
	Telecallers []TelecallerLoad `json:"telecallers"`
}
