package receipt

import (
	"slices"

	"github.com/zombor/expense-tracker/internal/account"
)

// Action is a receipt mutation checked by Can.
type Action string

const (
	ActionUpdateStatus  Action = "update_status"
	ActionUpdateReceipt Action = "update_receipt"
	ActionDeleteReceipt Action = "delete_receipt"
)

// visibleOwners returns the owners whose receipts the actor may read, in
// listing order. It returns nil with all set for admins.
func visibleOwners(actor account.Actor) (owners []string, all bool) {
	switch actor.Role {
	case account.RoleAdmin:
		return nil, true
	case account.RoleSupervisor:
		owners = []string{actor.Username}
		for _, member := range actor.Team {
			if !slices.Contains(owners, member) {
				owners = append(owners, member)
			}
		}
		return owners, false
	default:
		return []string{actor.Username}, false
	}
}

// Visible computes the receipts the actor may read, each tagged with its
// owner. Admins see every owner in store order. Supervisors see their own
// receipts followed by each team member's in team order. Everyone else sees
// only their own.
func Visible(db DB, actor account.Actor) ([]OwnedReceipt, error) {
	owners, all := visibleOwners(actor)
	if all {
		return db.ListAll()
	}
	return db.ListByOwners(owners)
}

// Can reports whether the actor may perform action on a receipt owned by
// owner.
func Can(actor account.Actor, action Action, owner string) bool {
	switch {
	case actor.IsAdmin():
		return true
	case actor.IsSupervisor():
		return owner == actor.Username || actor.Supervises(owner)
	}
	switch action {
	case ActionUpdateReceipt, ActionDeleteReceipt:
		return owner == actor.Username
	default:
		return false
	}
}

// CanGenerateTeamReport reports whether the actor may build a team report.
func CanGenerateTeamReport(actor account.Actor) bool {
	return actor.IsSupervisor()
}

// CanReadFile reports whether filename belongs to a receipt in visible.
func CanReadFile(visible []OwnedReceipt, filename string) bool {
	return filename != "" && slices.ContainsFunc(visible, func(r OwnedReceipt) bool {
		return r.ImageFilename == filename
	})
}
