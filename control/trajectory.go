package control

// ControlN is the number of near-term plan samples the controller consumes.
const ControlN = 17

const (
	planHorizonS = 10.0
	planMaxIdx   = 32
)

// planTimeIdx holds the time offsets (s) of the plan samples. The grid is
// quadratic so resolution concentrates in the near term where actuation
// happens.
var planTimeIdx = buildPlanTimeIdx()

func buildPlanTimeIdx() []float64 {
	t := make([]float64, ControlN)
	for i := range t {
		frac := float64(i) / planMaxIdx
		t[i] = planHorizonS * frac * frac
	}
	return t
}

// PlanTimeOffsets returns a copy of the plan sample time grid, for callers
// that synthesize trajectories (test rigs, scenario players).
func PlanTimeOffsets() []float64 {
	out := make([]float64, ControlN)
	copy(out, planTimeIdx)
	return out
}

// PlanSource classifies which upstream planner produced the trajectory.
// Telemetry only; it carries no control semantics.
type PlanSource int

const (
	PlanSourceCruise PlanSource = iota
	PlanSourceLead0
	PlanSourceLead1
	PlanSourceLead2
	PlanSourceE2E
	PlanSourceUnknown
)

func (s PlanSource) String() string {
	switch s {
	case PlanSourceCruise:
		return "cruise"
	case PlanSourceLead0:
		return "lead0"
	case PlanSourceLead1:
		return "lead1"
	case PlanSourceLead2:
		return "lead2"
	case PlanSourceE2E:
		return "e2e"
	default:
		return "unknown"
	}
}

// Ordinal returns the telemetry encoding of the plan source.
func (s PlanSource) Ordinal() int {
	if s < PlanSourceCruise || s > PlanSourceE2E {
		return 5
	}
	return int(s)
}

// Trajectory is the per-cycle speed/accel plan from the upstream planner,
// sampled at planTimeIdx. Read-only to the controller.
type Trajectory struct {
	Speeds  []float64
	Accels  []float64
	HasLead bool
	Source  PlanSource
}

// sampleTrajectory extracts the near-term targets from the plan, compensating
// for actuator delay. A plan without exactly ControlN samples degrades to
// zeroed targets, which biases the state machine toward a stop rather than
// uncontrolled motion.
//
// Lag compensation is asymmetric on purpose: the delay-projected accel may
// only increase braking, never increase acceleration, so both the target
// accel and target speed are capped at the plan's first sample.
func sampleTrajectory(plan Trajectory, actuatorDelay float64) (vTarget, vTargetFuture, aTarget float64) {
	if len(plan.Speeds) != ControlN || len(plan.Accels) != ControlN {
		return 0, 0, 0
	}

	vTarget = Interp(actuatorDelay, planTimeIdx, plan.Speeds)
	vTargetFuture = plan.Speeds[ControlN-1]
	aTarget = 2*(vTarget-plan.Speeds[0])/actuatorDelay - plan.Accels[0]

	if aTarget > plan.Accels[0] {
		aTarget = plan.Accels[0]
	}
	if vTarget > plan.Speeds[0] {
		vTarget = plan.Speeds[0]
	}

	aTarget = ClampFloat(aTarget, AccelMinISO, AccelMaxISO)
	return vTarget, vTargetFuture, aTarget
}
