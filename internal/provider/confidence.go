package provider

// Scale describes how a provider reports confidence.
type Scale int

const (
	ScaleUnit    Scale = iota // already 0..1
	ScalePercent              // 0..100
	ScaleAuto                 // values above 1 are read as percent
)

// NormalizeConfidence maps v onto [0,1]. Unit-scale values inside the range
// are returned unchanged.
func NormalizeConfidence(v float64, scale Scale) float64 {
	if v != v { // NaN
		return 0
	}
	switch scale {
	case ScalePercent:
		v /= 100
	case ScaleAuto:
		if v > 1 {
			v /= 100
		}
	}
	return clamp01(v)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
