package control

// GainSchedule is a speed-indexed breakpoint table. BP holds the speed
// breakpoints in m/s, V the gain values; evaluation is clamped linear
// interpolation (see Interp).
type GainSchedule struct {
	BP []float64 `json:"bp"`
	V  []float64 `json:"v"`
}

// LongTuning holds the gain and deadzone schedules for the longitudinal
// feedback controller.
type LongTuning struct {
	Kp       GainSchedule `json:"kp"`
	Ki       GainSchedule `json:"ki"`
	Kd       GainSchedule `json:"kd"`
	Kf       GainSchedule `json:"kf"`
	Deadzone GainSchedule `json:"deadzone"`
}

// Calibration contains the per-vehicle parameters of the longitudinal
// controller. Fixed for the lifetime of a LongControl instance.
type Calibration struct {
	// Mode thresholds
	VEgoStopping float64 `json:"v_ego_stopping_mps"` // below this speed stopping may engage
	VEgoStarting float64 `json:"v_ego_starting_mps"` // future target above this speed releases a stop
	StopAccel    float64 `json:"stop_accel_mps2"`    // accel held while stopped
	StartAccel   float64 `json:"start_accel_mps2"`   // accel at which starting hands back to tracking

	// Open-loop ramp rates
	StoppingDecelRate float64 `json:"stopping_decel_rate_mps3"`
	StartingAccelRate float64 `json:"starting_accel_rate_mps3"`

	// StoppingControl reports whether the platform brakes harder on its own
	// when it expects a stop. Platforms without it need overshoot protection
	// at low speed.
	StoppingControl bool `json:"stopping_control"`

	ActuatorDelay float64 `json:"actuator_delay_s"`
	CyclePeriod   float64 `json:"cycle_period_s"`
	SatLimit      float64 `json:"sat_limit"` // windup fraction before the PID reports saturation

	Tuning LongTuning `json:"tuning"`
}

// DefaultCalibration returns a conservative passenger-vehicle calibration.
// Real deployments override these per scenario or per platform.
func DefaultCalibration() Calibration {
	return Calibration{
		VEgoStopping:      0.5,
		VEgoStarting:      0.5,
		StopAccel:         -2.0,
		StartAccel:        0.8,
		StoppingDecelRate: 0.8,
		StartingAccelRate: 3.2,
		StoppingControl:   false,
		ActuatorDelay:     0.15,
		CyclePeriod:       0.01,
		SatLimit:          0.8,
		Tuning: LongTuning{
			Kp:       GainSchedule{BP: []float64{0, 5, 35}, V: []float64{1.2, 0.8, 0.5}},
			Ki:       GainSchedule{BP: []float64{0, 35}, V: []float64{0.18, 0.12}},
			Kd:       GainSchedule{BP: []float64{0}, V: []float64{0}},
			Kf:       GainSchedule{BP: []float64{0}, V: []float64{1.0}},
			Deadzone: GainSchedule{BP: []float64{0}, V: []float64{0}},
		},
	}
}
