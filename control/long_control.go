package control

import "math"

// Absolute acceleration envelope per ISO 15622:2018, applied on top of the
// per-cycle external limits.
const (
	AccelMinISO = -3.5 // m/s^2
	AccelMaxISO = 2.0  // m/s^2
)

const stoppingTargetSpeedOffset = 0.01 // m/s above the minimum CAN speed

// Lead deceleration damper constants. A closing-rate drop sharper than
// dampingTriggerKPH (in km/h per cycle) arms a dampingCycles countdown.
const (
	dampingCycles     = 45
	dampingTriggerKPH = -4.0
)

// ControlMode is the discrete state of the longitudinal state machine.
type ControlMode int

const (
	ModeOff ControlMode = iota
	ModeTracking
	ModeStopping
	ModeStarting
)

func (m ControlMode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeTracking:
		return "tracking"
	case ModeStopping:
		return "stopping"
	case ModeStarting:
		return "starting"
	default:
		return "invalid"
	}
}

// StatusOrdinal returns the telemetry encoding of the mode.
func (m ControlMode) StatusOrdinal() int {
	switch m {
	case ModeStopping:
		return 0
	case ModeStarting:
		return 1
	case ModeTracking:
		return 2
	case ModeOff:
		return 3
	default:
		return 4
	}
}

// VehicleState is the per-cycle ego measurement set decoded from the bus.
type VehicleState struct {
	VEgo             float64 // m/s
	BrakePressed     bool
	GasPressed       bool
	Standstill       bool // instantaneous, from wheel speeds
	CruiseStandstill bool // reported by the cruise system
	BrakeHold        bool
	MinSpeedCAN      float64 // lowest speed the bus can represent; below it the bus reports 0
}

// LeadInfo describes the closest tracked object ahead. A nil *LeadInfo means
// no lead is reported this cycle.
type LeadInfo struct {
	DRel    float64 // m
	VRel    float64 // m/s, negative when closing
	Tracked bool
}

// AccelLimits are the externally supplied output bounds for one cycle.
type AccelLimits struct {
	Min float64
	Max float64
}

// LongControl computes the commanded longitudinal acceleration once per
// control cycle. One instance per controlled vehicle session; all mutable
// state lives on the instance and is touched only inside Update and Reset.
type LongControl struct {
	cal Calibration
	pid *LongPIDController

	mode            ControlMode
	vPID            float64
	lastOutputAccel float64

	// Lead decel damper state
	vRelPrev      float64
	decelDamping  float64
	decelDamping2 float64
	dampingTimer  int

	planSource PlanSource
}

// NewLongControl creates a controller in ModeOff with a neutral damper.
func NewLongControl(cal Calibration) *LongControl {
	return &LongControl{
		cal:           cal,
		pid:           NewLongPIDController(cal.Tuning, 1.0/cal.CyclePeriod, cal.SatLimit),
		mode:          ModeOff,
		decelDamping:  1.0,
		decelDamping2: 1.0,
	}
}

// Reset reseeds the setpoint and clears the PID state. Called internally by
// the stopping/starting ramps every cycle and externally after disengagement.
func (lc *LongControl) Reset(vPID float64) {
	lc.pid.Reset()
	lc.vPID = vPID
}

// nextControlMode evaluates the mode transition table. Transitions depend on
// the acceleration commanded in the previous cycle, so the caller must pass
// the persisted last output, not a recomputed one.
func nextControlMode(cal *Calibration, active bool, mode ControlMode, vEgo, vTargetFuture, vPID, outputAccel float64,
	brakePressed, cruiseStandstill, stop, gasPressed bool, minSpeedCAN float64) ControlMode {

	stopTarget := minSpeedCAN + stoppingTargetSpeedOffset
	stoppingCondition := stop || (vEgo < 2.0 && cruiseStandstill) ||
		(vEgo < cal.VEgoStopping &&
			((vPID < stopTarget && vTargetFuture < stopTarget) || brakePressed))

	startingCondition := (vTargetFuture > cal.VEgoStarting && !cruiseStandstill) || gasPressed

	if !active {
		return ModeOff
	}

	switch mode {
	case ModeOff:
		return ModeTracking
	case ModeTracking:
		if stoppingCondition {
			return ModeStopping
		}
	case ModeStopping:
		if startingCondition {
			return ModeStarting
		}
	case ModeStarting:
		if stoppingCondition {
			return ModeStopping
		}
		if outputAccel >= cal.StartAccel {
			return ModeTracking
		}
	}
	return mode
}

// Update runs one control cycle: advance the state machine, run the active
// control law and clamp the result. Returns the commanded acceleration in
// m/s^2, always inside the intersection of limits and the ISO envelope.
func (lc *LongControl) Update(active bool, state VehicleState, plan Trajectory, limits AccelLimits, lead *LeadInfo) float64 {
	vTarget, vTargetFuture, aTarget := sampleTrajectory(plan, lc.cal.ActuatorDelay)

	lc.pid.SetLimits(limits.Min, limits.Max)

	outputAccel := lc.lastOutputAccel

	dRel, vRel := 200.0, 0.0
	leadTracked := false
	if lead != nil {
		dRel = lead.DRel
		vRel = lead.VRel
		leadTracked = lead.Tracked
	}
	stop := plan.HasLead && leadTracked && dRel < 4.0

	lc.mode = nextControlMode(&lc.cal, active, lc.mode, state.VEgo, vTargetFuture, lc.vPID, outputAccel,
		state.BrakePressed, state.CruiseStandstill, stop, state.GasPressed, state.MinSpeedCAN)

	// The bus reports 0 below its minimum speed; clamping avoids setpoint
	// jumps when crossing that threshold.
	vEgoPID := math.Max(state.VEgo, state.MinSpeedCAN)

	if lc.mode == ModeOff || state.BrakePressed || state.GasPressed {
		// Highest-priority rule: any override or disengagement zeroes the
		// output and reseeds the controller, regardless of mode.
		lc.vPID = vEgoPID
		lc.pid.Reset()
		outputAccel = 0
	} else {
		switch lc.mode {
		case ModeTracking:
			outputAccel = lc.updateTracking(state, vEgoPID, vTarget, vTargetFuture, aTarget, vRel)
		case ModeStopping:
			outputAccel = lc.updateStopping(state, outputAccel, plan.HasLead, dRel, limits)
		case ModeStarting:
			outputAccel = lc.updateStarting(state, outputAccel, plan.HasLead, dRel)
		}
	}

	if !isFinite(outputAccel) {
		outputAccel = 0
	}
	finalAccel := ClampFloat(outputAccel,
		math.Max(limits.Min, AccelMinISO),
		math.Min(limits.Max, AccelMaxISO))

	lc.lastOutputAccel = finalAccel
	lc.planSource = plan.Source

	return finalAccel
}

// updateTracking runs the closed-loop law: setpoint from the sampled plan,
// feedforward from the planned accel, damped against abrupt lead closing-rate
// drops and guarded against accelerating into an intended stop.
func (lc *LongControl) updateTracking(state VehicleState, vEgoPID, vTarget, vTargetFuture, aTarget, vRel float64) float64 {
	lc.vPID = vTarget

	// Some platforms brake harder on their own when they expect a stop.
	// Without that, freeze the integrator near standstill so the controller
	// does not accelerate to correct a stop it is supposed to make.
	preventOvershoot := !lc.cal.StoppingControl && state.VEgo < 1.5 && vTargetFuture < 0.7
	deadzone := Interp(vEgoPID, lc.cal.Tuning.Deadzone.BP, lc.cal.Tuning.Deadzone.V)

	lc.updateDecelDamper(state.VEgo, vRel)

	out := lc.pid.Update(lc.vPID, vEgoPID, vEgoPID, aTarget, deadzone, preventOvershoot, false)
	out *= lc.decelDamping

	if preventOvershoot || state.BrakeHold {
		out = math.Min(out, 0)
	}
	return out
}

// updateDecelDamper arms a short damping window when the lead's closing rate
// drops abruptly at speed, then relaxes the damping factor linearly back to 1
// as the countdown expires. A second qualifying drop during an active
// countdown is ignored; the trigger only arms from idle.
func (lc *LongControl) updateDecelDamper(vEgo, vRel float64) {
	if lc.vRelPrev != vRel && vRel <= 0 && vEgo > 13.0 && lc.dampingTimer <= 0 {
		delta := (vRel - lc.vRelPrev) * 3.6
		if delta < dampingTriggerKPH {
			lc.dampingTimer = dampingCycles
			lc.decelDamping2 = Interp(math.Abs(delta), []float64{0, 10}, []float64{1, 0.1})
		}
		lc.vRelPrev = vRel
	} else if lc.dampingTimer > 0 {
		lc.dampingTimer--
		lc.decelDamping = Interp(float64(lc.dampingTimer), []float64{0, dampingCycles}, []float64{1, lc.decelDamping2})
	}
}

// updateStopping ramps the command open-loop toward the stop accel; feedback
// is unreliable near zero speed. A close lead speeds up the ramp. The
// recovery branch only runs once stopped and already below the stop target,
// backing off over-braking; the if/else-if ordering is load-bearing.
func (lc *LongControl) updateStopping(state VehicleState, outputAccel float64, hasLead bool, dRel float64, limits AccelLimits) float64 {
	factor := 1.0
	if hasLead {
		factor = Interp(dRel, []float64{2.0, 4.0}, []float64{2.0, 1.0})
	}
	if !state.Standstill || outputAccel > lc.cal.StopAccel {
		outputAccel -= lc.cal.StoppingDecelRate * lc.cal.CyclePeriod * factor
	} else if state.CruiseStandstill && outputAccel < lc.cal.StopAccel {
		outputAccel += lc.cal.StoppingDecelRate * lc.cal.CyclePeriod
	}
	outputAccel = ClampFloat(outputAccel, limits.Min, limits.Max)

	// Keep the PID primed at the current speed for a clean re-entry.
	lc.Reset(state.VEgo)
	return outputAccel
}

// updateStarting releases the brake quickly before handing control back to
// the tracking law. A lead closer than 5 m sharply slows the release.
func (lc *LongControl) updateStarting(state VehicleState, outputAccel float64, hasLead bool, dRel float64) float64 {
	factor := 1.0
	if hasLead {
		factor = Interp(dRel, []float64{4.0, 5.0}, []float64{1.0, 100.0})
	}
	if outputAccel < lc.cal.StartAccel {
		outputAccel += lc.cal.StartingAccelRate * lc.cal.CyclePeriod * factor
	}

	lc.Reset(state.VEgo)
	return outputAccel
}

// Mode returns the current discrete control mode.
func (lc *LongControl) Mode() ControlMode {
	return lc.mode
}

// LongControlDiagnostics contains observable internal state for logging.
type LongControlDiagnostics struct {
	Mode            ControlMode
	StatusOrdinal   int
	PlanSource      PlanSource
	VPID            float64
	LastOutputAccel float64
	DecelDamping    float64
	DampingTimer    int
	PIDSaturated    bool
	PIDIntegral     float64
}

// GetDiagnostics returns current state for monitoring. Telemetry only.
func (lc *LongControl) GetDiagnostics() LongControlDiagnostics {
	return LongControlDiagnostics{
		Mode:            lc.mode,
		StatusOrdinal:   lc.mode.StatusOrdinal(),
		PlanSource:      lc.planSource,
		VPID:            lc.vPID,
		LastOutputAccel: lc.lastOutputAccel,
		DecelDamping:    lc.decelDamping,
		DampingTimer:    lc.dampingTimer,
		PIDSaturated:    lc.pid.Saturated(),
		PIDIntegral:     lc.pid.Integral(),
	}
}
