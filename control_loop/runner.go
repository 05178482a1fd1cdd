package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"long-control-core/control"
	"long-control-core/utils"
)

const (
	frameVehicleState = "VEHICLE_STATE_1"
	frameCruiseState  = "CRUISE_STATE_1"
	frameLeadTrack    = "LEAD_TRACK_1"
	frameAccelCmd     = "LONG_ACCEL_CMD"

	rxStaleAfter   = 500 * time.Millisecond
	leadStaleAfter = 500 * time.Millisecond
	diagEveryN     = 100
)

type RunnerConfig struct {
	Interface    string
	MapPath      string
	ScenarioPath string
}

type Runner struct {
	cfg    RunnerConfig
	log    *utils.Logger
	cmap   *utils.CANMap
	scen   Scenario
	writer utils.CANWriter
	reader utils.CANReader
	cmdFD  *utils.FrameDef
	lc     *control.LongControl
}

// busFeedback is the decoded state of one received frame, merged into the
// cycle loop's view of the vehicle.
type busFeedback struct {
	frame     string
	values    map[string]float64
	timestamp time.Time
}

func NewRunner(ctx context.Context, cfg RunnerConfig, log *utils.Logger) (*Runner, error) {
	cmap, err := utils.LoadCANMap(cfg.MapPath)
	if err != nil {
		return nil, fmt.Errorf("load can map: %w", err)
	}

	scen, err := LoadScenario(cfg.ScenarioPath)
	if err != nil {
		return nil, fmt.Errorf("load scenario: %w", err)
	}

	cmdFD, err := cmap.FrameByName(frameAccelCmd)
	if err != nil {
		return nil, fmt.Errorf("command frame: %w", err)
	}
	if cmdFD.CycleMS <= 0 {
		return nil, fmt.Errorf("frame %s has invalid cycle_ms %d", cmdFD.Name, cmdFD.CycleMS)
	}
	for _, name := range []string{frameVehicleState, frameCruiseState, frameLeadTrack} {
		if _, err := cmap.FrameByName(name); err != nil {
			return nil, fmt.Errorf("feedback frame: %w", err)
		}
	}

	writer, err := utils.NewSocketCANWriter(ctx, cfg.Interface)
	if err != nil {
		return nil, err
	}
	reader, err := utils.NewSocketCANReader(ctx, cfg.Interface)
	if err != nil {
		writer.Close()
		return nil, err
	}

	cyclePeriod := float64(cmdFD.CycleMS) / 1000.0
	if scen.Calibration.CyclePeriod != cyclePeriod {
		log.Warn("scenario cycle_period_s %.3f != %s cycle %.3f; using the frame cycle",
			scen.Calibration.CyclePeriod, cmdFD.Name, cyclePeriod)
		scen.Calibration.CyclePeriod = cyclePeriod
	}

	return &Runner{
		cfg:    cfg,
		log:    log,
		cmap:   cmap,
		scen:   scen,
		writer: writer,
		reader: reader,
		cmdFD:  cmdFD,
		lc:     control.NewLongControl(scen.Calibration),
	}, nil
}

func (r *Runner) Close() {
	if r.reader != nil {
		_ = r.reader.Close()
	}
	if r.writer != nil {
		_ = r.writer.Close()
	}
}

// Run drives the fixed control cycle: merge bus feedback, evaluate the
// scenario trajectory, run the controller and transmit the accel command.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("Starting control loop: cmd=%s id=0x%X cycle_ms=%d iface=%s scenario=%s duration=%.2fs",
		r.cmdFD.Name, r.cmdFD.ID, r.cmdFD.CycleMS, r.cfg.Interface,
		r.scen.Meta.Name, r.scen.Timing.DurationS)

	start := time.Now()
	ticker := time.NewTicker(time.Duration(r.cmdFD.CycleMS) * time.Millisecond)
	defer ticker.Stop()

	endAfter := time.Duration(r.scen.Timing.DurationS * float64(time.Second))

	var (
		sent       uint64
		state      control.VehicleState
		lead       control.LeadInfo
		active     bool
		lastRxTime time.Time
		leadSeen   time.Time
	)
	state.MinSpeedCAN = r.scen.Defaults.MinSpeedCAN

	rxChan := make(chan busFeedback, 100)
	go r.receiveLoop(ctx, rxChan)

	for {
		select {
		case <-ctx.Done():
			r.log.Warn("Context canceled; stopping control loop")
			r.log.Info("Completed. frames_sent=%d", sent)
			return ctx.Err()

		case fb := <-rxChan:
			lastRxTime = fb.timestamp
			switch fb.frame {
			case frameVehicleState:
				state.VEgo = fb.values["vehicle_speed_mps"]
				state.BrakePressed = fb.values["brake_pressed"] != 0
				state.GasPressed = fb.values["gas_pressed"] != 0
				state.Standstill = fb.values["standstill"] != 0
				state.BrakeHold = fb.values["brake_hold"] != 0
			case frameCruiseState:
				active = fb.values["cruise_engaged"] != 0
				state.CruiseStandstill = fb.values["cruise_standstill"] != 0
				if v := fb.values["min_speed_can_mps"]; v > 0 {
					state.MinSpeedCAN = v
				}
			case frameLeadTrack:
				if fb.values["lead_present"] != 0 {
					lead = control.LeadInfo{
						DRel:    fb.values["lead_drel_m"],
						VRel:    fb.values["lead_vrel_mps"],
						Tracked: fb.values["lead_tracked"] != 0,
					}
					leadSeen = fb.timestamp
				} else {
					leadSeen = time.Time{}
				}
			}

		case now := <-ticker.C:
			elapsed := now.Sub(start)
			if elapsed > endAfter {
				r.log.Info("Completed. frames_sent=%d", sent)
				return nil
			}
			t := elapsed.Seconds()

			if rxAge := now.Sub(lastRxTime); rxAge > rxStaleAfter {
				r.log.Warn("No bus feedback for %.0f ms - commanding on stale state", rxAge.Seconds()*1000)
			}

			var leadPtr *control.LeadInfo
			if !leadSeen.IsZero() && now.Sub(leadSeen) <= leadStaleAfter {
				leadPtr = &lead
			}

			plan := r.scen.EvalTrajectory(t)
			limits := r.scen.AccelLimits()

			finalAccel := r.lc.Update(active, state, plan, limits, leadPtr)

			if sent%diagEveryN == 0 {
				diag := r.lc.GetDiagnostics()
				r.log.Debug("LC: t=%.2f v=%.2f mode=%s vPid=%.2f accel=%.3f damping=%.2f sat=%v",
					t, state.VEgo, diag.Mode, diag.VPID, finalAccel, diag.DecelDamping, diag.PIDSaturated)
			}

			if err := r.transmitCommand(ctx, finalAccel, active); err != nil {
				r.log.Critical("Transmit failed at t=%.3f: %v", t, err)
				return err
			}
			sent++
		}
	}
}

func (r *Runner) transmitCommand(ctx context.Context, finalAccel float64, active bool) error {
	diag := r.lc.GetDiagnostics()
	values := map[string]float64{
		"accel_cmd_mps2": finalAccel,
		"control_mode":   float64(diag.StatusOrdinal),
		"plan_source":    float64(diag.PlanSource.Ordinal()),
		"engaged":        control.BoolToFloat(active),
	}

	frame, err := r.cmap.EncodeFrame(frameAccelCmd, values)
	if err != nil {
		return errors.Wrap(err, "encode accel command")
	}
	return r.writer.WriteFrame(ctx, frame)
}

// receiveLoop reads bus frames, decodes the ones named in the signal map and
// forwards them to the cycle loop. Unknown ids are normal bus chatter.
func (r *Runner) receiveLoop(ctx context.Context, out chan<- busFeedback) {
	r.log.Debug("RX loop started")
	defer r.log.Debug("RX loop stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
			frame, err := r.reader.ReadFrame(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.log.Error("RX error: %v", err)
				continue
			}

			fd, err := r.cmap.FrameByID(frame.ID)
			if err != nil || fd.Direction != "rx" {
				continue
			}
			values, err := r.cmap.DecodeFrame(frame)
			if err != nil {
				r.log.Error("RX decode 0x%X: %v", frame.ID, err)
				continue
			}

			select {
			case out <- busFeedback{frame: fd.Name, values: values, timestamp: time.Now()}:
			default:
				// Channel full, drop; the next periodic frame supersedes it.
			}
		}
	}
}
