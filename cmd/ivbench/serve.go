package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/pkg/errors"
	"github.com/pvlab/ivbench/bench"
	"github.com/pvlab/ivbench/benchhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewServeCommand returns the serve command
func NewServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the bench over HTTP",
		Long: `serve connects to the instruments and exposes the bench over HTTP.

	POST /runs/{protocol}      start a run, protocol is sweep, cv, cc, mpp or calibration
	GET  /runs/{id}            outcome of a run
	GET  /runs/{id}/stream     websocket of samples, status and outcome
	POST /abort                abort the active run
	GET  /state                runner state
	POST /calibrate            run a calibration and return its result
	     /smu, /lamp, /stage   manual control, refused while a run is active
	GET  /endpoints            list of routes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				c.Addr = addr
			}
			log := logrus.StandardLogger()
			b, err := bench.Build(c, log)
			if err != nil {
				return err
			}
			defer b.Close()

			api := benchhttp.New(b.Runner, b.Unit, b.Lamp, log)
			api.Stage = b.Stage
			srv := &http.Server{Addr: c.Addr, Handler: api.Router(middleware.Logger)}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sig
				log.Info("shutting down")
				b.Runner.RequestAbort()
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()

			log.WithFields(logrus.Fields{"addr": c.Addr, "mock": c.Mock}).Info("now listening for requests")
			err = srv.ListenAndServe()
			api.Wait()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides the config")
	return cmd
}
