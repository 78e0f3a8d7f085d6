package pgmvt

// NativeZoom is the level from which tiles render at full fidelity: no
// simplification, no minimum-area filter, no feature cap.
const NativeZoom = 14

// SimplifyTolerance returns the topology-preserving simplification
// tolerance (degrees) for a zoom level. Non-increasing in z, zero from
// NativeZoom up so the simplification cost is skipped entirely.
func SimplifyTolerance(z int) float64 {
	switch {
	case z >= NativeZoom:
		return 0
	case z >= 13:
		return 0.00004
	case z >= 12:
		return 0.00008
	case z >= 11:
		return 0.00015
	case z >= 10:
		return 0.0003
	case z >= 8:
		return 0.0012
	default:
		return 0.005
	}
}

// MinArea returns the minimum feature area (m²) rendered at a zoom level.
// Small features are dropped at low zooms where they would not cover a
// pixel anyway.
func MinArea(z int) float64 {
	switch {
	case z >= NativeZoom:
		return 0
	case z >= 13:
		return 3
	case z >= 12:
		return 10
	case z >= 11:
		return 25
	case z >= 10:
		return 50
	case z >= 8:
		return 250
	default:
		return 1000
	}
}

// FeatureCap bounds the candidate set per tile; the store orders by area
// descending before applying it, so truncation drops the smallest features
// first. Zero means unlimited.
func FeatureCap(z int) int {
	switch {
	case z >= NativeZoom:
		return 0
	case z >= 12:
		return 20000
	case z >= 10:
		return 10000
	default:
		return 4000
	}
}
