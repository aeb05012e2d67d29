// Package rotation decides what an incoming issue or pull request does to a team roster.
package rotation

import "github.com/codeGROOVE-dev/auto-assign/pkg/roster"

// Action is the kind of decision made for an event.
type Action string

const (
	// Demote means the event already has assignees; they move to the back and nobody new is assigned.
	Demote Action = "demote"
	// AssignNext means the front of the roster is assigned and the rotation advances.
	AssignNext Action = "assign_next"
	// Idle means there is nobody to assign and nothing to demote.
	Idle Action = "idle"
)

// Decision is the outcome of Decide.
type Decision struct {
	Action   Action
	Selected []string // members to assign, front first
	Demoted  []string // existing assignees moved to the back, in listed order
	Order    []string // roster order after the decision
}

// Decide applies the rotation policy to r in place.
//
// With existing assignees, each is moved to the back in listed order and no assignment is made.
// Otherwise the first count members are selected and the roster proceeds once per selection,
// before anyone is actually assigned: the rotation advances even if the assignment later fails.
func Decide(r *roster.Roster, existing []string, count int) Decision {
	if len(existing) > 0 {
		demoted := make([]string, 0, len(existing))
		for _, id := range existing {
			if id == "" {
				continue
			}
			r.ToBack(id)
			demoted = append(demoted, id)
		}
		return Decision{Action: Demote, Demoted: demoted, Order: r.Members()}
	}

	if count < 1 {
		count = 1
	}
	count = min(count, r.Len())
	if count == 0 {
		return Decision{Action: Idle, Order: r.Members()}
	}

	selected := r.Members()[:count]
	for range count {
		r.Proceed()
	}
	return Decision{Action: AssignNext, Selected: selected, Order: r.Members()}
}
