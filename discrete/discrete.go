// Package discrete converts between hardware levels and percentages.
package discrete

import "math"

// ToPercent converts a raw level within [min, max] to a percentage. The raw
// value is clamped into the range first. If the range is empty, 0 is
// returned.
func ToPercent(raw, min, max uint32) int {
	if max <= min {
		return 0
	}
	raw = Clamp(raw, min, max)
	return int(math.Round(float64(raw-min) * 100 / float64(max-min)))
}

// FromPercent converts a percentage to a raw level within [min, max]. The
// percentage is clamped to [0, 100].
func FromPercent(pct int, min, max uint32) uint32 {
	if max <= min {
		return min
	}
	pct = Clamp(pct, 0, 100)
	return Clamp(min+uint32(math.Round(float64(pct)*float64(max-min)/100)), min, max)
}

// Step returns the amount of hardware levels to move for a single increment
// or decrement. Devices with more than 20 levels move in 5% steps.
func Step(levels uint32) uint32 {
	if levels > 20 {
		return levels / 20
	}
	return 1
}

// Levels returns the number of discrete levels in [min, max].
func Levels(min, max uint32) uint32 {
	if max < min {
		return 0
	}
	return max - min + 1
}

// Clamp limits v to [lo, hi].
func Clamp[T ~int | ~uint32](v, lo, hi T) T {
	return min(max(v, lo), hi)
}
