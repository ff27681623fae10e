package device

import "math"

// Clamp constrains v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ToPercent expresses v as a rounded percentage of [lo, hi].
func ToPercent(v, lo, hi int) int {
	if hi <= lo {
		return 100
	}
	return int(math.Round(float64(Clamp(v, lo, hi)-lo) * 100 / float64(hi-lo)))
}

// FromPercent converts a percentage of [lo, hi] to a raw value in range.
func FromPercent(p, lo, hi int) int {
	return Clamp(lo+PercentDelta(p, lo, hi), lo, hi)
}

// PercentDelta converts a signed percentage step into raw units of [lo, hi].
func PercentDelta(p, lo, hi int) int {
	return int(math.Round(float64(p) * float64(hi-lo) / 100))
}
