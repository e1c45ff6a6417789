package app

// RecordState is the lifecycle of one stored annotation row. Soft-deleted
// rows stay in place so a later resubmission revives them instead of
// colliding with the unique key.
type RecordState int

const (
	StateAbsent RecordState = iota
	StateActive
	StateDeleted
)

// diffPlan is the outcome of comparing a submitted replacement set against
// stored rows sharing the same natural key space.
type diffPlan[K comparable, S any, R any] struct {
	Insert []S            // submitted, no stored row under the key
	Revive []revive[S, R] // submitted, stored row is soft-deleted
	Update []revive[S, R] // submitted, stored row active but payload differs
	Keep   []R            // submitted, stored row active and identical
	Delete []R            // stored row active, not submitted
}

type revive[S any, R any] struct {
	Submitted S
	Stored    R
}

// changed counts the mutations the plan will perform.
func (p diffPlan[K, S, R]) changed() int {
	return len(p.Insert) + len(p.Revive) + len(p.Update) + len(p.Delete)
}

// planDiff matches submitted entries to stored rows by key. state reports
// the stored row's lifecycle; same reports whether an active stored row
// already carries the submitted payload.
func planDiff[K comparable, S any, R any](
	submitted []S,
	stored []R,
	submittedKey func(S) K,
	storedKey func(R) K,
	state func(R) RecordState,
	same func(S, R) bool,
) diffPlan[K, S, R] {
	byKey := make(map[K]R, len(stored))
	for _, r := range stored {
		byKey[storedKey(r)] = r
	}

	var plan diffPlan[K, S, R]
	claimed := make(map[K]bool, len(submitted))
	for _, s := range submitted {
		k := submittedKey(s)
		claimed[k] = true
		r, ok := byKey[k]
		if !ok {
			plan.Insert = append(plan.Insert, s)
			continue
		}
		switch state(r) {
		case StateDeleted:
			plan.Revive = append(plan.Revive, revive[S, R]{Submitted: s, Stored: r})
		case StateActive:
			if same(s, r) {
				plan.Keep = append(plan.Keep, r)
			} else {
				plan.Update = append(plan.Update, revive[S, R]{Submitted: s, Stored: r})
			}
		default:
			plan.Insert = append(plan.Insert, s)
		}
	}

	for _, r := range stored {
		if claimed[storedKey(r)] {
			continue
		}
		if state(r) == StateActive {
			plan.Delete = append(plan.Delete, r)
		}
	}
	return plan
}
