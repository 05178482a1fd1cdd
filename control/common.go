package control

import "math"

// ClampFloat clamps value between min and max
func ClampFloat(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Interp evaluates a breakpoint table at x with linear interpolation.
// Outside the breakpoint range the nearest end value is returned, so a
// single-entry table acts as a constant.
func Interp(x float64, bp, v []float64) float64 {
	n := len(bp)
	if n == 0 || len(v) != n {
		return 0
	}
	if x <= bp[0] {
		return v[0]
	}
	if x >= bp[n-1] {
		return v[n-1]
	}
	for i := 1; i < n; i++ {
		if x < bp[i] {
			span := bp[i] - bp[i-1]
			if span == 0 {
				return v[i]
			}
			t := (x - bp[i-1]) / span
			return v[i-1] + t*(v[i]-v[i-1])
		}
	}
	return v[n-1]
}

// ApplyDeadzone zeroes the error inside the deadzone band and shifts it
// toward zero outside of it, keeping the error continuous at the edges.
func ApplyDeadzone(err, deadzone float64) float64 {
	if err > deadzone {
		return err - deadzone
	}
	if err < -deadzone {
		return err + deadzone
	}
	return 0
}

func sign(v float64) float64 {
	if v > 0 {
		return 1
	}
	if v < 0 {
		return -1
	}
	return 0
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// BoolToFloat converts bool to float64 (for CAN encoding)
func BoolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
