package control

import "math"

// LongPIDController is the gain-scheduled PIDF feedback controller used in
// tracking mode. Gains are interpolated from speed-indexed schedules each
// cycle, the integrator uses conditional integration for anti-windup and can
// be frozen by the caller, and the output saturates against per-cycle limits.
type LongPIDController struct {
	kp GainSchedule
	ki GainSchedule
	kd GainSchedule
	kf GainSchedule

	rate         float64 // cycles per second
	iRate        float64
	iUnwindRate  float64
	satCountRate float64
	satLimit     float64

	posLimit float64
	negLimit float64

	// Per-cycle state
	speed        float64
	p, i, d, f   float64
	control      float64
	lastError    float64
	hasLastError bool
	satCount     float64
	saturated    bool
}

// NewLongPIDController creates a controller from gain schedules. rate is the
// control frequency in Hz, satLimit the windup fraction (0..1) above which
// Saturated reports true.
func NewLongPIDController(tuning LongTuning, rate, satLimit float64) *LongPIDController {
	return &LongPIDController{
		kp:           tuning.Kp,
		ki:           tuning.Ki,
		kd:           tuning.Kd,
		kf:           tuning.Kf,
		rate:         rate,
		iRate:        1.0 / rate,
		iUnwindRate:  0.3 / rate,
		satCountRate: 1.0 / rate,
		satLimit:     satLimit,
	}
}

// SetLimits updates the output saturation bounds. Called every cycle before
// Update since the external accel limits vary with driving conditions.
func (pid *LongPIDController) SetLimits(neg, pos float64) {
	pid.negLimit = neg
	pid.posLimit = pos
}

// Reset clears all persistent controller state.
func (pid *LongPIDController) Reset() {
	pid.p = 0
	pid.i = 0
	pid.d = 0
	pid.f = 0
	pid.control = 0
	pid.lastError = 0
	pid.hasLastError = false
	pid.satCount = 0
	pid.saturated = false
}

// Update computes one cycle of feedback. speed selects the scheduled gains,
// feedforward is added through the kf schedule, deadzone is applied to the
// tracking error, freezeIntegrator holds the integral term and override
// unwinds it toward zero.
func (pid *LongPIDController) Update(setpoint, measurement, speed, feedforward, deadzone float64, freezeIntegrator, override bool) float64 {
	pid.speed = speed

	err := ApplyDeadzone(setpoint-measurement, deadzone)
	pid.p = err * Interp(speed, pid.kp.BP, pid.kp.V)
	pid.f = feedforward * Interp(speed, pid.kf.BP, pid.kf.V)

	if pid.hasLastError {
		pid.d = (err - pid.lastError) * pid.rate * Interp(speed, pid.kd.BP, pid.kd.V)
	} else {
		// No derivative on the first cycle after a reset.
		pid.d = 0
	}
	pid.lastError = err
	pid.hasLastError = true

	if override {
		pid.i -= pid.iUnwindRate * sign(pid.i)
	} else {
		ki := Interp(speed, pid.ki.BP, pid.ki.V)
		i := pid.i + err*pid.iRate*ki
		candidate := pid.p + pid.f + pid.d + i

		// Accept the new integral only when it moves the output away from a
		// limit or shrinks toward zero. Keeps the integrator from winding up
		// while the output is saturated.
		ok := (err >= 0 && (candidate <= pid.posLimit || i < 0)) ||
			(err <= 0 && (candidate >= pid.negLimit || i > 0))
		if ok && !freezeIntegrator {
			pid.i = i
		}
	}

	control := pid.p + pid.i + pid.d + pid.f
	pid.saturated = pid.checkSaturation(control, err)

	pid.control = ClampFloat(control, pid.negLimit, pid.posLimit)
	return pid.control
}

func (pid *LongPIDController) checkSaturation(control, err float64) bool {
	saturating := control < pid.negLimit || control > pid.posLimit
	if saturating && math.Abs(err) > 0.1 {
		pid.satCount += pid.satCountRate
	} else {
		pid.satCount -= pid.satCountRate
	}
	pid.satCount = ClampFloat(pid.satCount, 0, 1)
	return pid.satCount > pid.satLimit
}

// Saturated reports whether the controller has been pinned against an output
// limit with a meaningful error for a sustained fraction of recent cycles.
func (pid *LongPIDController) Saturated() bool {
	return pid.saturated
}

// Integral returns the current integral term, for diagnostics.
func (pid *LongPIDController) Integral() float64 {
	return pid.i
}
