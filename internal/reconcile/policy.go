package reconcile

import "time"

// Policy controls how snapshots are interpreted.
type Policy struct {
	// TreatSnapshotAsComplete removes every tracked vehicle missing from a
	// snapshot. When false, vehicles leave only after StaleTimeout without a sighting.
	TreatSnapshotAsComplete bool
	StaleTimeout            time.Duration
	// MoveEpsilonDegrees is the smallest lat or lng change treated as movement.
	MoveEpsilonDegrees float64
	// MatchRadiusMeters bounds how far a derived identity may travel between
	// snapshots and still be paired with its previous sighting.
	MatchRadiusMeters float64
}

// DefaultPolicy returns the complete-inventory policy.
func DefaultPolicy() Policy {
	return Policy{
		TreatSnapshotAsComplete: true,
		StaleTimeout:            2 * time.Minute,
		MoveEpsilonDegrees:      1e-6,
		MatchRadiusMeters:       150,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.StaleTimeout <= 0 {
		p.StaleTimeout = d.StaleTimeout
	}
	if p.MoveEpsilonDegrees <= 0 {
		p.MoveEpsilonDegrees = d.MoveEpsilonDegrees
	}
	if p.MatchRadiusMeters < 0 {
		p.MatchRadiusMeters = 0
	}
	return p
}
