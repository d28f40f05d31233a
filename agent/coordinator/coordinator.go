// Package coordinator wires the correlation store, the event subscriber and
// the protocol driver together, and runs the exchange scenarios.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/findy-network/findy-exchange/agent/archive"
	"github.com/findy-network/findy-exchange/agent/bus"
	"github.com/findy-network/findy-exchange/agent/cloudapi"
	"github.com/findy-network/findy-exchange/agent/corr"
	"github.com/findy-network/findy-exchange/agent/prot"
	"github.com/findy-network/findy-exchange/agent/psm"
	"github.com/findy-network/findy-exchange/agent/subscriber"
	"github.com/findy-network/findy-exchange/agent/utils"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// Config of the coordinator.
type Config struct {
	// ArchiveFile is the bolt file of the retired exchanges. Empty means no
	// archive.
	ArchiveFile string

	Driver     prot.Config
	Subscriber subscriber.Config
	Clock      clock.Clock
}

// DefaultConfig returns the config from the runtime settings.
func DefaultConfig() Config {
	return Config{
		Driver:     prot.DefaultConfig(),
		Subscriber: subscriber.DefaultConfig(),
	}
}

// Coordinator owns the running exchanges of the process.
type Coordinator struct {
	*prot.Driver

	store   *corr.Store
	station *bus.Station
	sub     *subscriber.Subscriber
	archive *archive.DB

	closeOnce sync.Once
}

// New builds the coordinator for the Cloud API.
func New(cfg Config, api prot.API, src subscriber.EventSource) (c *Coordinator, err error) {
	defer err2.Handle(&err, "new coordinator")

	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	c = &Coordinator{station: bus.New()}
	opts := []corr.Option{corr.WithClock(cfg.Clock), corr.WithStation(c.station)}
	if cfg.ArchiveFile != "" {
		c.archive = try.To1(archive.Open(cfg.ArchiveFile))
		opts = append(opts, corr.WithArchive(c.archive))
	}
	c.store = corr.New(opts...)

	cfg.Subscriber.Clock = cfg.Clock
	c.sub = subscriber.New(c.store, src, cfg.Subscriber)
	c.Driver = prot.New(api, c.store, c.sub, cfg.Driver)

	glog.V(1).Infoln("coordinator ready, archive:", cfg.ArchiveFile)
	return c, nil
}

// NewForClient builds the coordinator which uses the client for both the
// requests and the event streams.
func NewForClient(cfg Config, client *cloudapi.Client) (*Coordinator, error) {
	return New(cfg, client, client)
}

// Store returns the correlation store.
func (c *Coordinator) Store() *corr.Store {
	return c.store
}

// Archive returns the archive or nil if there is none.
func (c *Coordinator) Archive() *archive.DB {
	return c.archive
}

// Stats returns the subscriber counters.
func (c *Coordinator) Stats() subscriber.Stats {
	return c.sub.Stats()
}

// Active returns the tracked exchanges.
func (c *Coordinator) Active() []psm.Exchange {
	return c.store.Active()
}

// Exchange returns the tracked exchange or the archived one. Only a missing
// exchange is psm.ErrNotFound; the archive read errors are returned as such.
func (c *Coordinator) Exchange(corrID string) (psm.Exchange, error) {
	if ex, ok := c.store.Get(corrID); ok {
		return ex, nil
	}
	if c.archive != nil {
		for k := psm.Connection; k <= psm.Proof; k++ {
			ex, err := c.archive.Get(k, corrID)
			switch {
			case err == nil:
				return ex, nil
			case !errors.Is(err, archive.ErrNotExists):
				return psm.Exchange{}, err
			}
		}
	}
	return psm.Exchange{}, fmt.Errorf("exchange %s: %w", corrID, psm.ErrNotFound)
}

// AwaitReady waits the exchange to reach a terminal state. A terminal or
// archived exchange is returned at once. The wait ends with
// *psm.TimeoutError when the context is done.
func (c *Coordinator) AwaitReady(ctx context.Context, corrID string) (psm.Exchange, error) {
	ready := c.station.StartListen(corrID)
	defer c.station.StopListen(corrID, ready)

	ex, err := c.Exchange(corrID)
	if err != nil || ex.IsReady() {
		return ex, err
	}
	select {
	case <-ready:
		return c.Exchange(corrID)
	case <-ctx.Done():
		if last, err := c.Exchange(corrID); err == nil {
			ex = last
		}
		return ex, &psm.TimeoutError{
			CorrelationID: corrID,
			Target:        ex.Kind.Final(),
			LastState:     ex.State,
			Cause:         ctx.Err(),
		}
	}
}

// ErrNoArchive is returned when the coordinator runs without an archive.
var ErrNoArchive = fmt.Errorf("no exchange archive: %w", psm.ErrNotFound)

// Archived returns the archived exchanges of the kind in correlation id
// order. The limit caps the count when it's positive.
func (c *Coordinator) Archived(kind psm.Kind, limit int) (exs []psm.Exchange, err error) {
	defer err2.Handle(&err, "archived %s", kind)

	if c.archive == nil {
		return nil, ErrNoArchive
	}
	exs = make([]psm.Exchange, 0)
	try.To(c.archive.ForEach(kind, func(ex psm.Exchange) bool {
		exs = append(exs, ex)
		return limit <= 0 || len(exs) < limit
	}))
	return exs, nil
}

// Watch returns the transition notifications of the kind. Use bus.AllKinds
// for all of them. The channel is closed by Unwatch.
func (c *Coordinator) Watch(clientID string, kind psm.Kind) bus.NotifyChan {
	return c.station.AddListener(clientID, kind)
}

// Unwatch stops the notifications of the client.
func (c *Coordinator) Unwatch(clientID string) {
	c.station.RmListener(clientID)
}

// Sweep abandons the stale exchanges and retires the old terminal ones with
// the settings' limits.
func (c *Coordinator) Sweep() (abandoned, retired int) {
	return c.store.Sweep(utils.Settings.StaleAfter(), utils.Settings.RetireAfter())
}

// Close shuts the coordinator down: the event streams are closed and the
// outstanding waits end with the last state they reached. The drivers return
// their partial results.
func (c *Coordinator) Close() (err error) {
	c.closeOnce.Do(func() {
		c.store.Close()
		c.sub.Close()
		if c.archive != nil {
			err = c.archive.Close()
		}
		glog.V(1).Infoln("coordinator closed")
	})
	return err
}

// Run runs the scenario with the coordinator.
func (c *Coordinator) Run(ctx context.Context, s *Scenario, workers int) *Report {
	return s.Run(ctx, c.Driver, workers)
}
