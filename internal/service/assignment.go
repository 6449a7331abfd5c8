package service

import (
	"sort"

	"github.com/telecrm/backend/internal/models"
)

// Allocation pairs one lead with the telecaller it is planned for.
type Allocation struct {
	Lead       models.Lead
	Telecaller models.User
}

// PlanAuto spreads every lead over the roster. Leads are taken oldest first and
// each goes to the telecaller with the lowest running count; equal counts are
// broken by username, then by id.
func PlanAuto(leads []models.Lead, telecallers []models.User) ([]Allocation, error) {
	if len(telecallers) == 0 {
		return nil, newError(CodeNoTelecallers, "No telecallers available for assignment")
	}

	loads := make([]int, len(telecallers))
	for i, t := range telecallers {
		loads[i] = t.AssignedCount
	}

	plan := make([]Allocation, 0, len(leads))
	for _, l := range oldestFirst(leads) {
		idx := leastLoaded(telecallers, loads)
		loads[idx]++
		plan = append(plan, Allocation{Lead: l, Telecaller: telecallers[idx]})
	}
	return plan, nil
}

// PlanBulk hands the count oldest leads to a single telecaller.
func PlanBulk(leads []models.Lead, count int, telecaller models.User) ([]Allocation, error) {
	if count <= 0 {
		return nil, newError(CodeInvalidCount, "Count must be a positive number, got %d", count)
	}
	if count > len(leads) {
		return nil, newError(CodeInsufficientUnassigned, "Requested %d leads but only %d are unassigned", count, len(leads))
	}

	plan := make([]Allocation, 0, count)
	for _, l := range oldestFirst(leads)[:count] {
		plan = append(plan, Allocation{Lead: l, Telecaller: telecaller})
	}
	return plan, nil
}

func leastLoaded(telecallers []models.User, loads []int) int {
	best := 0
	for i := 1; i < len(telecallers); i++ {
		if lessLoaded(loads[i], telecallers[i], loads[best], telecallers[best]) {
			best = i
		}
	}
	return best
}

func lessLoaded(aLoad int, a models.User, bLoad int, b models.User) bool {
	if aLoad != bLoad {
		return aLoad < bLoad
	}
	if a.Username != b.Username {
		return a.Username < b.Username
	}
	return a.ID < b.ID
}

func oldestFirst(leads []models.Lead) []models.Lead {
	out := make([]models.Lead, len(leads))
	copy(out, leads)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func sortRoster(users []models.User) []models.User {
	out := make([]models.User, len(users))
	copy(out, users)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username == out[j].Username {
			return out[i].ID < out[j].ID
		}
		return out[i].Username < out[j].Username
	})
	return out
}
