package engine

// Options are the named tuning values for association. They come from the
// environment at startup; zero fields fall back to the documented
// defaults.
type Options struct {
	// AssumedMaxSpeed is the conservative upper bound on equipment
	// movement in meters per second (walking pace with a cart). The
	// minimum feasible transit time for a link is distance divided by
	// this speed.
	AssumedMaxSpeed float64

	// SurgeSpeedFactor multiplies AssumedMaxSpeed while the surge flag is
	// set, shortening the minimum feasible transit time during bursts of
	// activity.
	SurgeSpeedFactor float64

	// HighConfidenceThreshold is the aggregate confidence at or above
	// which an unflagged track is assigned the active status.
	HighConfidenceThreshold float64

	// NonAdjacentCeiling caps the confidence of any link between
	// locations with no registered adjacency.
	NonAdjacentCeiling float64

	// ImplausibleFloor is the confidence assigned to links whose elapsed
	// time is too short for the registered distance. Such links are still
	// created so the anomaly stays visible.
	ImplausibleFloor float64
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		AssumedMaxSpeed:         1.4,
		SurgeSpeedFactor:        1.75,
		HighConfidenceThreshold: 0.85,
		NonAdjacentCeiling:      0.4,
		ImplausibleFloor:        0.05,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.AssumedMaxSpeed <= 0 {
		o.AssumedMaxSpeed = d.AssumedMaxSpeed
	}
	if o.SurgeSpeedFactor <= 0 {
		o.SurgeSpeedFactor = d.SurgeSpeedFactor
	}
	if o.HighConfidenceThreshold <= 0 {
		o.HighConfidenceThreshold = d.HighConfidenceThreshold
	}
	if o.NonAdjacentCeiling <= 0 {
		o.NonAdjacentCeiling = d.NonAdjacentCeiling
	}
	if o.ImplausibleFloor <= 0 {
		o.ImplausibleFloor = d.ImplausibleFloor
	}
	return o
}
