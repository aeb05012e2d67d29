// Package roster implements the ordered reviewer rotation for a single team.
package roster

import (
	"errors"
	"slices"
)

// ErrDuplicateEntry is returned when appending a member that is already in the roster.
var ErrDuplicateEntry = errors.New("member already in roster")

// Roster is an ordered, duplicate-free sequence of member logins.
// The front of the roster receives the next assignment.
type Roster struct {
	members []string
}

// New creates a roster seeded with members in order. Later duplicates are dropped.
func New(members []string) *Roster {
	r := &Roster{members: make([]string, 0, len(members))}
	for _, m := range members {
		if !r.Contains(m) {
			r.members = append(r.members, m)
		}
	}
	return r
}

// Append adds id to the back of the roster.
func (r *Roster) Append(id string) error {
	if r.Contains(id) {
		return ErrDuplicateEntry
	}
	r.members = append(r.members, id)
	return nil
}

// Remove deletes id from the roster. Removing an absent id is a no-op.
func (r *Roster) Remove(id string) {
	if i := r.index(id); i >= 0 {
		r.members = slices.Delete(r.members, i, i+1)
	}
}

// ToBack moves id to the back of the roster, keeping the relative order of everyone else.
// An id that is not in the roster is appended: assignees may be people added by hand.
func (r *Roster) ToBack(id string) {
	r.Remove(id)
	r.members = append(r.members, id)
}

// Proceed rotates the front member to the back.
func (r *Roster) Proceed() {
	if len(r.members) < 2 {
		return
	}
	front := r.members[0]
	copy(r.members, r.members[1:])
	r.members[len(r.members)-1] = front
}

// Front returns the member due for the next assignment.
func (r *Roster) Front() (string, bool) {
	if len(r.members) == 0 {
		return "", false
	}
	return r.members[0], true
}

// Members returns a copy of the current order.
func (r *Roster) Members() []string {
	out := make([]string, len(r.members))
	copy(out, r.members)
	return out
}

// Len returns the number of members.
func (r *Roster) Len() int {
	return len(r.members)
}

// Contains reports whether id is in the roster.
func (r *Roster) Contains(id string) bool {
	return r.index(id) >= 0
}

func (r *Roster) index(id string) int {
	return slices.Index(r.members, id)
}
