package roster

// Changes lists the members added to and removed from a roster during Sync.
type Changes struct {
	Added   []string
	Removed []string
}

// Sync reconciles a persisted rotation order with the configured team members.
//
// A nil persisted order means no record exists yet and the roster starts in configured order.
// A nil configured list means the team has no member list to reconcile against, so the
// persisted order is returned as-is. Otherwise retained members keep their persisted order,
// new members are appended in configured order, and departed members are dropped.
func Sync(configured, persisted []string) *Roster {
	r, _ := SyncReport(configured, persisted)
	return r
}

// SyncReport is Sync that also reports which members were added and removed.
func SyncReport(configured, persisted []string) (*Roster, Changes) {
	var changes Changes
	if persisted == nil {
		return New(configured), changes
	}

	r := New(persisted)
	if configured == nil {
		return r, changes
	}

	stored := make(map[string]bool, len(persisted))
	for _, m := range persisted {
		stored[m] = true
	}
	wanted := make(map[string]bool, len(configured))
	for _, m := range configured {
		wanted[m] = true
	}

	for _, m := range configured {
		if stored[m] {
			continue
		}
		if err := r.Append(m); err == nil {
			changes.Added = append(changes.Added, m)
		}
	}

	for _, m := range persisted {
		if wanted[m] || !r.Contains(m) {
			continue
		}
		r.Remove(m)
		changes.Removed = append(changes.Removed, m)
	}

	return r, changes
}
