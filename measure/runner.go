package measure

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/pvlab/ivbench/illumination"
	"github.com/pvlab/ivbench/lightlevel"
	"github.com/pvlab/ivbench/smu"
	"github.com/pvlab/ivbench/util"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Options tune a Runner
type Options struct {
	// NearDark is the intensity in percent below which the light check is skipped
	NearDark float64 `json:"nearDark" yaml:"nearDark"`

	// LightTolerance is the largest accepted relative difference between
	// the measured and requested intensity
	LightTolerance float64 `json:"lightTolerance" yaml:"lightTolerance"`

	// LightCheckDwell is how long the reference diode is averaged for the light check, in seconds
	LightCheckDwell float64 `json:"lightCheckDwell" yaml:"lightCheckDwell"`

	// DisplayRate is how often, in Hz, the instrument is read between
	// samples to keep its front panel live
	DisplayRate float64 `json:"displayRate" yaml:"displayRate"`

	// AutoSweepPoints is the length of the sweep that seeds MPP tracking
	AutoSweepPoints int `json:"autoSweepPoints" yaml:"autoSweepPoints"`
}

// DefaultOptions returns the Options used when a field is zero
func DefaultOptions() Options {
	return Options{
		NearDark:        1,
		LightTolerance:  0.1,
		LightCheckDwell: 1,
		DisplayRate:     10,
		AutoSweepPoints: 11,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.NearDark <= 0 {
		o.NearDark = d.NearDark
	}
	if o.LightTolerance <= 0 {
		o.LightTolerance = d.LightTolerance
	}
	if o.LightCheckDwell <= 0 {
		o.LightCheckDwell = d.LightCheckDwell
	}
	if o.DisplayRate <= 0 {
		o.DisplayRate = d.DisplayRate
	}
	if o.AutoSweepPoints < 2 {
		o.AutoSweepPoints = d.AutoSweepPoints
	}
	return o
}

// RunOptions are the per-call settings of Run
type RunOptions struct {
	// ID identifies the run, a UUID is generated if empty
	ID string

	Results ResultsSink
	Status  StatusSink
}

// Runner executes protocols on one bench.  At most one run is active at a
// time; Run returns ErrRunInProgress otherwise.
type Runner struct {
	SMU  smu.SourceMeter
	Lamp illumination.Controller

	// Monitor reads the reference diode, nil if the bench has none
	Monitor *lightlevel.Monitor

	// Test is the channel of the device under test
	Test smu.ChannelID

	Clock   util.Clock
	Log     logrus.FieldLogger
	Options Options

	run sync.Mutex

	mu    sync.Mutex
	state State
	id    string
	abort *abortToken
}

// NewRunner returns a Runner.  If mon is not nil its Test channel is used
// for the device under test, otherwise channel A.
func NewRunner(meter smu.SourceMeter, lamp illumination.Controller, mon *lightlevel.Monitor, opts Options, log logrus.FieldLogger) *Runner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &Runner{
		SMU:     meter,
		Lamp:    lamp,
		Monitor: mon,
		Test:    smu.ChannelA,
		Clock:   util.SystemClock{},
		Log:     log.WithField("component", "runner"),
		Options: opts,
		state:   StateIdle,
	}
	if mon != nil {
		r.Test = mon.Test
	}
	return r
}

type abortToken struct {
	flag   atomic.Bool
	cancel context.CancelFunc
}

// RequestAbort asks the active run to stop.  It is safe to call at any time
// from any goroutine, and does nothing when no run is active.
func (r *Runner) RequestAbort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.abort != nil {
		r.abort.flag.Store(true)
		r.abort.cancel()
	}
}

// State returns the state of the runner and the ID of the active run
func (r *Runner) State() (State, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == "" {
		return StateIdle, r.id
	}
	return r.state, r.id
}

// Busy is true while a run is active
func (r *Runner) Busy() bool {
	s, _ := r.State()
	return s != StateIdle
}

// runContext is the state of one invocation of Run
type runContext struct {
	ctx   context.Context
	token *abortToken
	log   logrus.FieldLogger
	clock util.Clock
	opts  Options

	results ResultsSink
	status  StatusSink
	display *rate.Limiter

	params    Params
	out       *RunOutcome
	loopStart time.Time
	corr      correction
	parallel  bool // reference diode read with every sample

	// live is the channel read between samples to keep the display live
	live smu.ChannelID
}

func (rc *runContext) aborted() bool {
	return rc.token.flag.Load() || rc.ctx.Err() != nil
}

// check returns errAborted once an abort has been requested
func (rc *runContext) check() error {
	if rc.aborted() {
		return errAborted
	}
	return nil
}

func (rc *runContext) statusf(format string, args ...interface{}) {
	rc.status.Status(fmt.Sprintf(format, args...))
}

func (rc *runContext) warn(w Warning) {
	rc.out.Warnings = append(rc.out.Warnings, w)
	rc.log.Warn(w.String())
	rc.status.Status("warning: " + w.String())
}

func (r *Runner) setState(rc *runContext, s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	rc.log.WithField("state", string(s)).Debug("state transition")
	rc.status.Status(string(s))
}

// Run executes the protocol p describes, blocking until it ends.  Samples
// and status are streamed to the sinks in opts.  An aborted run returns an
// outcome with Final == StateAborted and a nil error.  Parameter errors are
// returned before any hardware is touched.
func (r *Runner) Run(ctx context.Context, p Params, opts RunOptions) (*RunOutcome, error) {
	if !r.run.TryLock() {
		return nil, ErrRunInProgress
	}
	defer r.run.Unlock()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Protocol() == ProtocolCalibration && r.Monitor == nil {
		return nil, invalid("calibration needs a reference diode")
	}

	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Results == nil {
		opts.Results = discard{}
	}
	if opts.Status == nil {
		opts.Status = discard{}
	}
	clk := r.Clock
	if clk == nil {
		clk = util.SystemClock{}
	}
	o := r.Options.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	token := &abortToken{cancel: cancel}
	c := p.common()
	rc := &runContext{
		ctx:     ctx,
		token:   token,
		log:     r.Log.WithFields(logrus.Fields{"run": opts.ID, "protocol": string(p.Protocol())}),
		clock:   clk,
		opts:    o,
		results: opts.Results,
		status:  opts.Status,
		display: rate.NewLimiter(rate.Limit(o.DisplayRate), 1),
		params:  p,
		live:    r.Test,
		out: &RunOutcome{
			ID:         opts.ID,
			Protocol:   p.Protocol(),
			CellName:   c.CellName,
			Samples:    []SampleRecord{},
			Correction: 1,
		},
	}
	rc.corr = correction{requested: c.Intensity, monitor: r.Monitor}

	r.mu.Lock()
	r.id = opts.ID
	r.abort = token
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.abort = nil
		r.state = StateIdle
		r.mu.Unlock()
	}()

	rc.log.Info("run started")
	err := r.execute(rc)

	out := rc.out
	out.Correction = rc.corr.factor()
	ApplyCorrection(out.Samples, c.ActiveArea, out.Correction)
	out.MaxPower = maxPower(out.Samples)
	switch {
	case err == nil:
		out.Final = StateCompleted
	case rc.aborted() && (errors.Is(err, errAborted) || errors.Is(err, context.Canceled)):
		out.Final = StateAborted
		err = nil
	default:
		out.Final = StateErrored
		out.Error = err.Error()
	}
	r.setState(rc, out.Final)
	l := rc.log.WithFields(logrus.Fields{"final": string(out.Final), "samples": len(out.Samples)})
	if err != nil {
		l.WithError(err).Error("run failed")
	} else {
		l.Info("run finished")
	}
	return out, err
}

// execute runs the states from LampOn to LampOff.  LampOff runs however
// the run ends, including by panic.
func (r *Runner) execute(rc *runContext) (err error) {
	c := rc.params.common()
	defer func() {
		r.setState(rc, StateLampOff)
		if cerr := r.cleanup(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	r.setState(rc, StateLampOn)
	if err := r.SMU.SetLimits(r.Test, c.VoltageCompliance, c.CurrentCompliance); err != nil {
		return err
	}
	if c.Intensity > 0 {
		if err := r.Lamp.LightOn(rc.ctx, c.Intensity); err != nil {
			return errors.Wrap(err, "lamp on")
		}
	}
	if err := rc.check(); err != nil {
		return err
	}

	useRef := r.Monitor != nil && c.UseReference && c.Intensity > rc.opts.NearDark
	if useRef && rc.params.Protocol() != ProtocolCalibration {
		r.setState(rc, StateLightCheck)
		if err := r.lightCheck(rc, c.Intensity); err != nil {
			return err
		}
		rc.parallel = r.Monitor.Mode != lightlevel.Serial
	}

	switch p := rc.params.(type) {
	case *SweepParams:
		return r.sweep(rc, p)
	case *ConstantVoltageParams:
		return r.constant(rc, p.TimeSeries, smu.SourceVoltage)
	case *ConstantCurrentParams:
		return r.constant(rc, p.TimeSeries, smu.SourceCurrent)
	case *MPPParams:
		return r.track(rc, p)
	case *CalibrationParams:
		return r.calibrate(rc, p)
	}
	return invalid("unsupported protocol %s", rc.params.Protocol())
}

// cleanup switches the lamp off and disables the outputs, once each
func (r *Runner) cleanup() error {
	var first error
	if err := r.Lamp.LightOff(context.Background()); err != nil {
		first = errors.Wrap(err, "lamp off")
	}
	ch := r.Test
	if r.Monitor != nil {
		ch = smu.Both
	}
	if err := r.SMU.DisableOutput(ch); err != nil && first == nil {
		first = err
	}
	return first
}

func (r *Runner) lightCheck(rc *runContext, intensity float64) error {
	pct, err := r.Monitor.MeasureIntensity(rc.ctx, util.SecsToDuration(rc.opts.LightCheckDwell))
	if err != nil {
		return err
	}
	rc.statusf("light level %.1f%% of one sun", pct)
	if math.Abs(pct-intensity) > rc.opts.LightTolerance*intensity {
		return errors.Wrapf(ErrLightLevelMismatch, "measured %.1f%%, requested %.1f%%", pct, intensity)
	}
	return nil
}

// probeVoc holds the test channel at zero current for settle and returns its voltage
func (r *Runner) probeVoc(rc *runContext, settle float64) (float64, error) {
	if err := r.SMU.SetSourceMode(r.Test, smu.SourceCurrent); err != nil {
		return 0, err
	}
	if err := r.SMU.SetCurrent(r.Test, 0); err != nil {
		return 0, err
	}
	if err := r.SMU.EnableOutput(r.Test); err != nil {
		return 0, err
	}
	if err := r.wait(rc, settle); err != nil {
		return 0, err
	}
	v, err := r.SMU.MeasureVoltage(r.Test)
	if err != nil {
		return 0, err
	}
	rc.out.Voc = &v
	rc.statusf("Voc %.4f V", v)
	return v, nil
}

// polarity probes Voc and, under illumination, checks its sign
func (r *Runner) polarity(rc *runContext, intensity, settle float64) (float64, error) {
	if intensity > 0 {
		r.setState(rc, StatePolarityCheck)
	}
	voc, err := r.probeVoc(rc, settle)
	if err != nil {
		return 0, err
	}
	if intensity > 0 && voc < 0 {
		return 0, errors.Wrapf(ErrWrongVocPolarity, "Voc = %.4f V", voc)
	}
	return voc, nil
}

// sample reads the test channel, and the reference diode in parallel mode
func (r *Runner) sample(rc *runContext) (SampleRecord, error) {
	var (
		s   SampleRecord
		err error
	)
	got := false
	if rc.parallel {
		var test float64
		s.Reference, test, got, err = r.Monitor.ReadReference()
		if err != nil {
			return s, err
		}
		s.HasReference = true
		s.Current = test
		rc.corr.add(s.Reference)
	}
	if !got {
		if s.Current, err = r.SMU.MeasureCurrent(r.Test); err != nil {
			return s, err
		}
	}
	if s.Voltage, err = r.SMU.MeasureVoltage(r.Test); err != nil {
		return s, err
	}
	s.Elapsed = rc.clock.Now().Sub(rc.loopStart).Seconds()
	return s, nil
}

// emit records s and streams it
func (rc *runContext) emit(s SampleRecord) {
	s.densities(rc.params.common().ActiveArea, rc.corr.factor())
	rc.out.Samples = append(rc.out.Samples, s)
	rc.results.Append(s)
}

func maxPower(samples []SampleRecord) *PowerPoint {
	var best *PowerPoint
	for _, s := range samples {
		if p := s.Power(); best == nil || p > best.Power {
			best = &PowerPoint{Voltage: s.Voltage, Current: s.Current, Power: p}
		}
	}
	return best
}
