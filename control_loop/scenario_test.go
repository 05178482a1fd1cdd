package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"long-control-core/control"
)

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validScenario = `{
  "meta": {"name": "test", "version": 1},
  "timing": {"duration_s": 30.0},
  "defaults": {
    "initial_speed_mps": 0.0,
    "accel_min_mps2": -3.5,
    "accel_max_mps2": 1.6,
    "min_speed_can_mps": 0.3
  },
  "segments": [
    {"t0": 0.0, "t1": 10.0, "target_speed_mps": 10.0, "profile_accel_mps2": 2.0},
    {"t0": 10.0, "t1": -1, "target_speed_mps": 0.0, "profile_accel_mps2": 1.0, "has_lead": true, "plan_source": "lead0"}
  ]
}`

func TestLoadScenarioDefaultsCalibration(t *testing.T) {
	scen, err := LoadScenario(writeScenario(t, validScenario))
	if err != nil {
		t.Fatal(err)
	}
	want := control.DefaultCalibration()
	if scen.Calibration.CyclePeriod != want.CyclePeriod {
		t.Errorf("cycle period = %v, want default %v", scen.Calibration.CyclePeriod, want.CyclePeriod)
	}
	if scen.Calibration.StopAccel != want.StopAccel {
		t.Errorf("stop accel = %v, want default %v", scen.Calibration.StopAccel, want.StopAccel)
	}
}

func TestLoadScenarioRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not json", `{"meta":`},
		{"zero duration", `{"timing": {"duration_s": 0}, "defaults": {"accel_min_mps2": -3.5, "accel_max_mps2": 1.6}}`},
		{"inverted limits", `{"timing": {"duration_s": 10}, "defaults": {"accel_min_mps2": 2.0, "accel_max_mps2": -2.0}}`},
		{"negative profile accel", `{
			"timing": {"duration_s": 10},
			"defaults": {"accel_min_mps2": -3.5, "accel_max_mps2": 1.6},
			"segments": [{"t0": 0, "t1": -1, "target_speed_mps": 5, "profile_accel_mps2": -1}]
		}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadScenario(writeScenario(t, tc.body)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoadScenarioMissingFile(t *testing.T) {
	if _, err := LoadScenario(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRefSpeedRampsAndHolds(t *testing.T) {
	scen, err := LoadScenario(writeScenario(t, validScenario))
	if err != nil {
		t.Fatal(err)
	}

	// Ramp phase of the first segment: 0 -> 10 m/s at 2 m/s^2.
	v, a := scen.refSpeedAt(2.0)
	if math.Abs(v-4.0) > 1e-9 || a != 2.0 {
		t.Errorf("t=2: v=%v a=%v, want 4.0/2.0", v, a)
	}

	// Target reached before the segment ends: hold.
	v, a = scen.refSpeedAt(8.0)
	if v != 10.0 || a != 0 {
		t.Errorf("t=8: v=%v a=%v, want 10.0/0", v, a)
	}

	// Second segment ramps down from the previous target.
	v, a = scen.refSpeedAt(12.0)
	if math.Abs(v-8.0) > 1e-9 || a != -1.0 {
		t.Errorf("t=12: v=%v a=%v, want 8.0/-1.0", v, a)
	}

	// Past the end of the last segment: hold its target.
	v, a = scen.refSpeedAt(100.0)
	if v != 0 || a != 0 {
		t.Errorf("t=100: v=%v a=%v, want 0/0", v, a)
	}
}

func TestEvalTrajectoryShape(t *testing.T) {
	scen, err := LoadScenario(writeScenario(t, validScenario))
	if err != nil {
		t.Fatal(err)
	}

	traj := scen.EvalTrajectory(0)
	if len(traj.Speeds) != control.ControlN || len(traj.Accels) != control.ControlN {
		t.Fatalf("trajectory lengths = %d/%d, want %d", len(traj.Speeds), len(traj.Accels), control.ControlN)
	}
	if traj.HasLead {
		t.Error("first segment should not report a lead")
	}
	if traj.Source != control.PlanSourceCruise {
		t.Errorf("source = %v, want cruise", traj.Source)
	}
	if traj.Speeds[0] != 0 {
		t.Errorf("speeds[0] = %v, want initial speed 0", traj.Speeds[0])
	}
	for i := 1; i < len(traj.Speeds); i++ {
		if traj.Speeds[i] < traj.Speeds[i-1] {
			t.Fatalf("speeds not nondecreasing during pull-away at index %d", i)
		}
	}

	traj = scen.EvalTrajectory(11.0)
	if !traj.HasLead {
		t.Error("second segment should report a lead")
	}
	if traj.Source != control.PlanSourceLead0 {
		t.Errorf("source = %v, want lead0", traj.Source)
	}
}

func TestParsePlanSource(t *testing.T) {
	cases := map[string]control.PlanSource{
		"":        control.PlanSourceCruise,
		"cruise":  control.PlanSourceCruise,
		"lead0":   control.PlanSourceLead0,
		"lead1":   control.PlanSourceLead1,
		"lead2":   control.PlanSourceLead2,
		"e2e":     control.PlanSourceE2E,
		"gibberi": control.PlanSourceUnknown,
	}
	for in, want := range cases {
		if got := parsePlanSource(in); got != want {
			t.Errorf("parsePlanSource(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestShippedScenarioLoads(t *testing.T) {
	scen, err := LoadScenario(filepath.Join("..", "scenarios", "approach_and_stop.json"))
	if err != nil {
		t.Fatal(err)
	}
	if scen.Timing.DurationS <= 0 {
		t.Error("shipped scenario has no duration")
	}
	if len(scen.Segments) == 0 {
		t.Error("shipped scenario has no segments")
	}
	if got := scen.AccelLimits(); got.Max <= got.Min {
		t.Errorf("shipped limits invalid: %+v", got)
	}
}
