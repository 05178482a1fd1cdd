package main

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"long-control-core/control"
)

// Scenario stands in for the upstream trajectory planner on the bench: it
// defines the desired speed profile over time plus the per-cycle accel
// limits, and carries the vehicle calibration.
type Scenario struct {
	Meta        ScenarioMeta        `json:"meta"`
	Timing      ScenarioTiming      `json:"timing"`
	Defaults    ScenarioDefaults    `json:"defaults"`
	Segments    []ScenarioSegment   `json:"segments"`
	Calibration control.Calibration `json:"calibration"`
}

type ScenarioMeta struct {
	Name        string `json:"name"`
	Version     int    `json:"version"`
	Description string `json:"description"`
}

type ScenarioTiming struct {
	DurationS float64 `json:"duration_s"`
}

// ScenarioDefaults apply wherever a segment leaves a field unset.
type ScenarioDefaults struct {
	InitialSpeedMPS float64 `json:"initial_speed_mps"`
	AccelMin        float64 `json:"accel_min_mps2"`
	AccelMax        float64 `json:"accel_max_mps2"`
	MinSpeedCAN     float64 `json:"min_speed_can_mps"`
}

// ScenarioSegment holds one piece of the desired speed profile. The profile
// ramps from the previous segment's target toward TargetSpeed at ProfileAccel
// starting at T0. T1 < 0 means "until scenario end".
type ScenarioSegment struct {
	T0           float64 `json:"t0"`
	T1           float64 `json:"t1"`
	TargetSpeed  float64 `json:"target_speed_mps"`
	ProfileAccel float64 `json:"profile_accel_mps2"`
	HasLead      bool    `json:"has_lead,omitempty"`
	PlanSource   string  `json:"plan_source,omitempty"`
	Comment      string  `json:"comment,omitempty"`
}

// LoadScenario loads and validates a scenario JSON file.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, errors.Wrap(err, "read scenario file")
	}

	var scen Scenario
	if err := json.Unmarshal(data, &scen); err != nil {
		return Scenario{}, errors.Wrap(err, "unmarshal scenario")
	}

	if scen.Timing.DurationS <= 0 {
		return Scenario{}, errors.Errorf("invalid duration_s: %f", scen.Timing.DurationS)
	}
	if scen.Defaults.AccelMax <= scen.Defaults.AccelMin {
		return Scenario{}, errors.Errorf("invalid accel limits: [%f, %f]",
			scen.Defaults.AccelMin, scen.Defaults.AccelMax)
	}
	for i, seg := range scen.Segments {
		if seg.ProfileAccel < 0 {
			return Scenario{}, errors.Errorf("segment %d: profile_accel_mps2 must be >= 0 (direction is inferred)", i)
		}
	}

	if scen.Calibration.CyclePeriod == 0 {
		scen.Calibration = control.DefaultCalibration()
	}

	return scen, nil
}

// segmentAt returns the active segment at time t and the speed the profile
// started from when that segment began.
func (s *Scenario) segmentAt(t float64) (ScenarioSegment, float64, bool) {
	vStart := s.Defaults.InitialSpeedMPS
	for _, seg := range s.Segments {
		t1 := seg.T1
		if t1 < 0 {
			t1 = s.Timing.DurationS
		}
		if t >= seg.T0 && t < t1 {
			return seg, vStart, true
		}
		vStart = seg.TargetSpeed
	}
	return ScenarioSegment{}, vStart, false
}

// refSpeedAt evaluates the desired profile speed and accel at absolute time t
// with a constant-acceleration ramp toward the segment target.
func (s *Scenario) refSpeedAt(t float64) (v, a float64) {
	seg, vStart, ok := s.segmentAt(t)
	if !ok {
		// Past the last segment (or before the first): hold.
		return vStart, 0
	}

	accel := seg.ProfileAccel
	if seg.TargetSpeed < vStart {
		accel = -accel
	}
	v = vStart + accel*(t-seg.T0)
	reached := (accel >= 0 && v >= seg.TargetSpeed) || (accel < 0 && v <= seg.TargetSpeed)
	if reached || accel == 0 {
		return seg.TargetSpeed, 0
	}
	return v, accel
}

// EvalTrajectory builds the per-cycle trajectory the controller consumes by
// sampling the profile at the plan time grid ahead of t.
func (s *Scenario) EvalTrajectory(t float64) control.Trajectory {
	offsets := control.PlanTimeOffsets()
	speeds := make([]float64, len(offsets))
	accels := make([]float64, len(offsets))
	for i, dt := range offsets {
		speeds[i], accels[i] = s.refSpeedAt(t + dt)
	}

	traj := control.Trajectory{
		Speeds: speeds,
		Accels: accels,
		Source: control.PlanSourceCruise,
	}
	if seg, _, ok := s.segmentAt(t); ok {
		traj.HasLead = seg.HasLead
		traj.Source = parsePlanSource(seg.PlanSource)
	}
	return traj
}

// AccelLimits returns the external limits for time t. Per-segment overrides
// are not modeled; the defaults are re-supplied every cycle as the interface
// requires.
func (s *Scenario) AccelLimits() control.AccelLimits {
	return control.AccelLimits{Min: s.Defaults.AccelMin, Max: s.Defaults.AccelMax}
}

func parsePlanSource(s string) control.PlanSource {
	switch s {
	case "", "cruise":
		return control.PlanSourceCruise
	case "lead0":
		return control.PlanSourceLead0
	case "lead1":
		return control.PlanSourceLead1
	case "lead2":
		return control.PlanSourceLead2
	case "e2e":
		return control.PlanSourceE2E
	default:
		return control.PlanSourceUnknown
	}
}
