package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/pvlab/ivbench/bench"
	"github.com/pvlab/ivbench/measure"
	"github.com/pvlab/ivbench/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/theckman/yacspin"
)

var (
	good = color.New(color.FgGreen, color.Bold)
	warn = color.New(color.FgYellow)
	bad  = color.New(color.FgRed, color.Bold)
)

// readParams decodes JSON parameters for proto from path, or stdin if path is -
func readParams(proto measure.Protocol, path string) (measure.Params, error) {
	p, err := measure.NewParams(proto)
	if err != nil {
		return nil, err
	}
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "opening parameters")
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(p); err != nil {
		return nil, errors.Wrap(err, "decoding parameters")
	}
	return p, nil
}

func newSpinner(msg string) (*yacspin.Spinner, error) {
	return yacspin.New(yacspin.Config{
		Writer:            os.Stderr,
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		Message:           msg,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
}

// execute builds the bench and runs p, aborting on SIGINT.  Samples are
// written to out as CSV unless out is nil.
func execute(cmd *cobra.Command, p measure.Params, out io.Writer) (*measure.RunOutcome, error) {
	c, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log := logrus.StandardLogger()
	b, err := bench.Build(c, log)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sig:
			b.Runner.RequestAbort()
		case <-done:
		}
	}()

	spin, err := newSpinner(string(p.Protocol()))
	if err != nil {
		return nil, err
	}
	opts := measure.RunOptions{
		Status: measure.StatusFunc(func(s string) { spin.Message(s) }),
	}
	if out != nil {
		fmt.Fprintln(out, "t,v,i,j,p")
		opts.Results = measure.ResultsFunc(func(s measure.SampleRecord) {
			fmt.Fprintln(out, util.Float64SliceToCSV([]float64{s.Elapsed, s.Voltage, s.Current, s.CurrentDensity, s.PowerDensity}, 'g', 6))
		})
	}
	spin.Start()
	o, err := b.Runner.Run(context.Background(), p, opts)
	if err != nil || o.Final != measure.StateCompleted {
		spin.StopFail()
	} else {
		spin.Stop()
	}
	return o, err
}

func summarize(o *measure.RunOutcome) {
	if o == nil {
		return
	}
	for _, w := range o.Warnings {
		warn.Fprintln(os.Stderr, "warning:", w.String())
	}
	switch o.Final {
	case measure.StateCompleted:
		good.Fprintf(os.Stderr, "%s %s completed, %d samples\n", o.Protocol, o.ID, len(o.Samples))
	case measure.StateAborted:
		warn.Fprintf(os.Stderr, "%s %s aborted after %d samples\n", o.Protocol, o.ID, len(o.Samples))
	default:
		bad.Fprintf(os.Stderr, "%s %s failed: %s\n", o.Protocol, o.ID, o.Error)
	}
	if o.Voc != nil {
		fmt.Fprintf(os.Stderr, "Voc        %.4f V\n", *o.Voc)
	}
	if o.MaxPower != nil {
		fmt.Fprintf(os.Stderr, "Pmax       %.4g W at %.4f V\n", o.MaxPower.Power, o.MaxPower.Voltage)
	}
	if o.Correction != 1 {
		fmt.Fprintf(os.Stderr, "correction %.4f\n", o.Correction)
	}
}

// NewRunCommand returns the run command
func NewRunCommand() *cobra.Command {
	var (
		params string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "run <sweep|cv|cc|mpp>",
		Short: "Run one measurement",
		Long: `run executes one measurement and writes its samples to stdout as CSV
(elapsed s, voltage V, current A, current density mA/cm², power density mW/cm²).

Parameters are read as JSON from the file given by --params, or stdin.
Interrupt with Ctrl-C to abort; the lamp is switched off and outputs disabled.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"sweep", "cv", "cc", "mpp"},
		RunE: func(cmd *cobra.Command, args []string) error {
			proto, err := measure.ParseProtocol(args[0])
			if err != nil {
				return err
			}
			if proto == measure.ProtocolCalibration {
				return errors.New("use the calibrate command")
			}
			p, err := readParams(proto, params)
			if err != nil {
				return err
			}
			var w io.Writer = os.Stdout
			if asJSON {
				w = nil
			}
			o, err := execute(cmd, p, w)
			summarize(o)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(o)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&params, "params", "p", "-", "JSON parameter file, - for stdin")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outcome as JSON instead of streaming CSV")
	return cmd
}

// NewCalibrateCommand returns the calibrate command
func NewCalibrateCommand() *cobra.Command {
	var params string
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Measure the reference diode current at one sun against a calibrated cell",
		Long: `calibrate measures a calibrated cell and the reference diode at the same
light, and prints the reference diode current the cell's certified short
circuit current implies.  Put the result in reference.oneSun.  Nothing is stored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := readParams(measure.ProtocolCalibration, params)
			if err != nil {
				return err
			}
			o, err := execute(cmd, p, nil)
			summarize(o)
			if err != nil {
				return err
			}
			if o.Calibration == nil {
				return errors.New("calibration did not complete")
			}
			cal := o.Calibration
			fmt.Printf("test cell        %.6g A\n", cal.MeasuredTest)
			fmt.Printf("reference diode  %.6g A\n", cal.MeasuredReference)
			fmt.Printf("factor           %.6g\n", cal.Factor)
			good.Printf("reference.oneSun %.6g A\n", cal.ReferenceCurrent)
			return nil
		},
	}
	cmd.Flags().StringVarP(&params, "params", "p", "-", "JSON parameter file, - for stdin")
	return cmd
}
