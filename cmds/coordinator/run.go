// Package coordinator is the command package for running the exchange
// scenarios with the status and health services.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/findy-network/findy-exchange/agent/bus"
	"github.com/findy-network/findy-exchange/agent/coordinator"
	"github.com/findy-network/findy-exchange/cmds"
	grpcserver "github.com/findy-network/findy-exchange/grpc/server"
	"github.com/findy-network/findy-exchange/server"
	"github.com/go-co-op/gocron"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

const watcherID = "run-cmd"

// RunCmd runs the scenario file against the Cloud API.
type RunCmd struct {
	cmds.Cmd

	Scenario string
	Workers  int

	// PsmDB is the bolt file of the retired exchanges. Empty means no
	// archive.
	PsmDB string

	ServerPort   uint
	GRPCPort     int
	SweepMinutes int

	// Verbose prints every transition while the scenario runs.
	Verbose bool

	// Serve keeps the status services running after the scenario until the
	// process is interrupted.
	Serve bool
}

func (c RunCmd) Validate() (err error) {
	defer err2.Handle(&err)

	try.To(c.Cmd.Validate())
	if c.Scenario == "" {
		return errors.New("scenario file cannot be empty")
	}
	try.To1(os.Stat(c.Scenario))
	if c.Workers < 0 {
		return errors.New("workers cannot be negative")
	}
	if c.SweepMinutes < 0 {
		return errors.New("sweep interval cannot be negative")
	}
	if c.Serve && c.ServerPort == 0 && c.GRPCPort == 0 {
		return errors.New("serve needs the server or the grpc port")
	}
	return nil
}

// Result is the report of the scenario run.
type Result struct {
	*coordinator.Report
}

func (r Result) JSON() ([]byte, error) {
	return r.Report.JSON()
}

func (c RunCmd) Exec(w io.Writer) (r cmds.Result, err error) {
	defer err2.Handle(&err, "run scenario")

	s := try.To1(coordinator.LoadScenario(c.Scenario))

	cfg := coordinator.DefaultConfig()
	cfg.ArchiveFile = c.PsmDB
	co := try.To1(coordinator.NewForClient(cfg, c.Client()))
	defer func() {
		if err := co.Close(); err != nil {
			glog.Warningln("close coordinator:", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stop := c.startServices(co)
	defer stop()

	var printed chan struct{}
	if c.Verbose {
		printed = make(chan struct{})
		go printTransitions(w, co.Watch(watcherID, bus.AllKinds), printed)
	}

	rep := co.Run(ctx, s, c.Workers)

	if printed != nil {
		co.Unwatch(watcherID)
		<-printed
	}
	if w != nil {
		try.To(rep.Print(w))
	}
	if c.Serve {
		glog.Infoln("scenario ready, serving until interrupted")
		<-ctx.Done()
	}
	if n := rep.Failed(); n > 0 {
		return Result{rep}, fmt.Errorf("%d of %d exchanges failed", n, len(rep.Results))
	}
	return Result{rep}, nil
}

func printTransitions(w io.Writer, notes bus.NotifyChan, done chan<- struct{}) {
	defer close(done)
	for n := range notes {
		if w != nil {
			_, _ = fmt.Fprintf(w, "%s %s: %s -> %s\n", n.Kind, n.CorrelationID, n.From, n.To)
		}
	}
}

// startServices starts the sweeper and the status servers which are
// configured. The returned function stops them.
func (c RunCmd) startServices(co *coordinator.Coordinator) (stop func()) {
	var stops []func()

	if c.SweepMinutes > 0 {
		cron := gocron.NewScheduler(time.Now().Location())
		_, err := cron.Every(c.SweepMinutes).Minutes().Do(func() {
			abandoned, retired := co.Sweep()
			glog.V(1).Infof("sweep: %d abandoned, %d retired", abandoned, retired)
		})
		if err != nil {
			glog.Warningln("register sweep error:", err)
		}
		cron.StartAsync()
		stops = append(stops, cron.Stop)
	}

	if c.ServerPort > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := server.StartHTTPServer(ctx, co, c.ServerPort); err != nil {
				glog.Errorln("status server:", err)
			}
		}()
		stops = append(stops, func() {
			cancel()
			<-done
		})
	}

	if c.GRPCPort > 0 {
		health := grpcserver.New()
		if err := health.Start(c.GRPCPort); err != nil {
			glog.Errorln(err)
		} else {
			stops = append(stops, func() {
				health.SetServing(false)
				health.Stop()
			})
		}
	}

	return func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}
}
