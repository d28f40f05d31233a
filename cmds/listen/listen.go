// Package listen is the command package for following a wallet's event
// stream.
package listen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/findy-network/findy-exchange/agent/psm"
	"github.com/findy-network/findy-exchange/agent/sse"
	"github.com/findy-network/findy-exchange/agent/subscriber"
	"github.com/findy-network/findy-exchange/cmds"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// Cmd prints the events of the party's topic stream.
type Cmd struct {
	cmds.Cmd
	Party    psm.Party
	Topic    string
	LookBack time.Duration

	// Count stops the listening after that many events. Zero means until
	// interrupted.
	Count int

	// Wait stops the listening after the duration. Zero means no limit.
	Wait time.Duration
}

func (c Cmd) Validate() (err error) {
	defer err2.Handle(&err)

	try.To(c.Cmd.Validate())
	try.To(cmds.ValidateParty(c.Party, "listener"))
	if !psm.KindForTopic(c.Topic).Valid() {
		return fmt.Errorf("unknown topic %q, use connections, credentials or proofs", c.Topic)
	}
	if c.Count < 0 || c.LookBack < 0 || c.Wait < 0 {
		return errors.New("count, look back and wait cannot be negative")
	}
	return nil
}

// Result is the received events.
type Result struct {
	Events []subscriber.Message `json:"events"`
}

func (r Result) JSON() ([]byte, error) {
	return json.Marshal(r)
}

func (c Cmd) Exec(w io.Writer) (_ cmds.Result, err error) {
	defer err2.Handle(&err, "listen")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if c.Wait > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.Wait)
		defer cancel()
	}

	stream := try.To1(c.Client().Open(ctx, sse.Request{
		WalletID:    c.Party.WalletID,
		Topic:       c.Topic,
		LookBack:    c.LookBack,
		Credentials: c.Party,
	}))
	defer stream.Close()

	var r Result
	for c.Count == 0 || len(r.Events) < c.Count {
		ev, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil {
				glog.V(1).Infoln("listen stopped:", ctx.Err())
				return r, nil
			}
			return r, err
		}
		if ev.IsPing() {
			continue
		}
		var msg subscriber.Message
		if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
			glog.Warningln("skip undecodable event:", err)
			continue
		}
		r.Events = append(r.Events, msg)
		kind := psm.KindForTopic(msg.Topic)
		cmds.Fprintln(w, msg.Topic, msg.CorrelationID(kind), msg.State())
	}
	return r, nil
}
