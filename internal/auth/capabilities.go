package auth

import "github.com/telecrm/backend/internal/models"

type Operation string

const (
	OpListLeads      Operation = "leads:list"
	OpCreateLead     Operation = "leads:create"
	OpUpdateLead     Operation = "leads:update"
	OpDeleteLead     Operation = "leads:delete"
	OpUploadLeads    Operation = "leads:upload"
	OpSampleTemplate Operation = "leads:template"
	OpViewAssigned   Operation = "leads:assigned"
	OpUpdateStatus   Operation = "leads:status"
	OpAssign         Operation = "assignment:assign"
	OpUnassign       Operation = "assignment:unassign"
	OpListUsers      Operation = "users:list"
	OpCreateUser     Operation = "users:create"
	OpStats          Operation = "stats:view"
)

var capabilities = map[models.Role]map[Operation]bool{
	models.RoleAdmin: set(
		OpListLeads, OpCreateLead, OpUpdateLead, OpDeleteLead, OpUploadLeads, OpSampleTemplate,
		OpAssign, OpUnassign, OpListUsers, OpCreateUser, OpStats,
	),
	models.RoleAgent: set(
		OpListLeads, OpCreateLead, OpUploadLeads, OpSampleTemplate, OpStats,
	),
	models.RoleTeleCaller: set(
		OpViewAssigned, OpUpdateStatus,
	),
}

func set(ops ...Operation) map[Operation]bool {
	m := make(map[Operation]bool, len(ops))
	for _, op := range ops {
		m[op] = true
	}
	return m
}

// Allowed reports whether role may perform op. Unknown roles may do nothing.
func Allowed(role models.Role, op Operation) bool {
	return capabilities[role][op]
}
