package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/findy-network/findy-exchange/agent/cloudapi"
	"github.com/findy-network/findy-exchange/agent/prot"
	"github.com/findy-network/findy-exchange/agent/psm"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	"gopkg.in/yaml.v3"
)

// Scenario is the set of the exchange flows to run. The parties are given by
// the caller, and the flows refer to them by name.
//
//	parties:
//	  issuer: {wallet_id: w1, api_key: k1}
//	  holder: {wallet_id: w2, api_key: k2}
//	flows:
//	  - name: issue
//	    repeat: 2
//	    steps:
//	      - connection: {initiator: issuer, responder: holder}
//	      - credential: {issuer: issuer, holder: holder, cred_def_id: cd1,
//	          attributes: {name: Alice}, revoke: true}
//	      - proof: {verifier: issuer, prover: holder, attributes: [name]}
type Scenario struct {
	Parties map[string]psm.Party `yaml:"parties"`
	Flows   []Flow               `yaml:"flows"`
}

// Flow is the sequence of the exchanges which build on each other, e.g. a
// credential is offered over the connection of the earlier step. Flows run
// concurrently.
type Flow struct {
	Name   string `yaml:"name"`
	Repeat int    `yaml:"repeat"`
	Steps  []Step `yaml:"steps"`
}

// Step is one exchange of the flow. Exactly one of the fields is set.
type Step struct {
	Connection *ConnectionStep `yaml:"connection,omitempty"`
	Credential *CredentialStep `yaml:"credential,omitempty"`
	Proof      *ProofStep      `yaml:"proof,omitempty"`
}

type ConnectionStep struct {
	Initiator string `yaml:"initiator"`
	Responder string `yaml:"responder"`
}

type CredentialStep struct {
	Issuer string `yaml:"issuer"`
	Holder string `yaml:"holder"`

	// ConnectionID is needed only if the flow has no connection step
	// between the parties.
	ConnectionID string            `yaml:"connection_id"`
	CredDefID    string            `yaml:"cred_def_id"`
	Attributes   map[string]string `yaml:"attributes"`
	Revoke       bool              `yaml:"revoke"`
}

type ProofStep struct {
	Verifier     string   `yaml:"verifier"`
	Prover       string   `yaml:"prover"`
	ConnectionID string   `yaml:"connection_id"`
	Attributes   []string `yaml:"attributes"`
	Comment      string   `yaml:"comment"`
}

// Kind returns the exchange kind of the step.
func (s Step) Kind() psm.Kind {
	switch {
	case s.Connection != nil:
		return psm.Connection
	case s.Credential != nil:
		return psm.Credential
	case s.Proof != nil:
		return psm.Proof
	}
	return psm.Unknown
}

func (s Step) parties() []string {
	switch {
	case s.Connection != nil:
		return []string{s.Connection.Initiator, s.Connection.Responder}
	case s.Credential != nil:
		return []string{s.Credential.Issuer, s.Credential.Holder}
	case s.Proof != nil:
		return []string{s.Proof.Verifier, s.Proof.Prover}
	}
	return nil
}

// LoadScenario reads the scenario file.
func LoadScenario(filename string) (s *Scenario, err error) {
	defer err2.Handle(&err, "load scenario %s", filename)

	f := try.To1(os.Open(filename))
	defer f.Close()
	return ReadScenario(f)
}

// ReadScenario reads and validates the scenario.
func ReadScenario(r io.Reader) (s *Scenario, err error) {
	defer err2.Handle(&err, "read scenario")

	s = new(Scenario)
	try.To(yaml.NewDecoder(r).Decode(s))
	try.To(s.Validate())
	for name, p := range s.Parties {
		if p.Name == "" {
			p.Name = name
			s.Parties[name] = p
		}
	}
	return s, nil
}

// Validate checks that every step is one exchange between known parties.
func (s *Scenario) Validate() error {
	if len(s.Flows) == 0 {
		return errors.New("scenario has no flows")
	}
	for name, p := range s.Parties {
		if p.WalletID == "" {
			return fmt.Errorf("party %s: wallet_id cannot be empty", name)
		}
	}
	for i, f := range s.Flows {
		if len(f.Steps) == 0 {
			return fmt.Errorf("flow %d (%s) has no steps", i, f.Name)
		}
		for j, st := range f.Steps {
			n := 0
			for _, set := range []bool{st.Connection != nil, st.Credential != nil, st.Proof != nil} {
				if set {
					n++
				}
			}
			if n != 1 {
				return fmt.Errorf("flow %s step %d: exactly one exchange must be given", f.Name, j)
			}
			for _, p := range st.parties() {
				if _, ok := s.Parties[p]; !ok {
					return fmt.Errorf("flow %s step %d: unknown party %q", f.Name, j, p)
				}
			}
			if st.Credential != nil && st.Credential.CredDefID == "" {
				return fmt.Errorf("flow %s step %d: cred_def_id cannot be empty", f.Name, j)
			}
			if st.Proof != nil && len(st.Proof.Attributes) == 0 {
				return fmt.Errorf("flow %s step %d: proof attributes cannot be empty", f.Name, j)
			}
		}
	}
	return nil
}

// Result is the outcome of one exchange of the scenario.
type Result struct {
	Flow          string        `json:"flow"`
	Round         int           `json:"round"`
	Step          int           `json:"step"`
	Kind          psm.Kind      `json:"kind"`
	CorrelationID string        `json:"correlation_id"`
	State         psm.State     `json:"state"`
	Failure       string        `json:"failure,omitempty"`
	Err           string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// OK tells if the exchange succeeded.
func (r Result) OK() bool {
	return r.Err == ""
}

// Report collects the results of the scenario run.
type Report struct {
	lk      sync.Mutex
	Results []Result `json:"results"`
}

func (r *Report) add(res Result) {
	r.lk.Lock()
	defer r.lk.Unlock()
	r.Results = append(r.Results, res)
}

// Failed returns the count of the failed exchanges.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.OK() {
			n++
		}
	}
	return n
}

// Summary returns the succeeded and failed counts per kind.
func (r *Report) Summary() map[psm.Kind][2]int {
	sum := make(map[psm.Kind][2]int)
	for _, res := range r.Results {
		c := sum[res.Kind]
		if res.OK() {
			c[0]++
		} else {
			c[1]++
		}
		sum[res.Kind] = c
	}
	return sum
}

// Print writes the report as a table.
func (r *Report) Print(w io.Writer) (err error) {
	defer err2.Handle(&err, "print report")

	for _, res := range r.Results {
		status := "ok"
		if !res.OK() {
			status = res.Failure + ": " + res.Err
		}
		try.To1(fmt.Fprintf(w, "%s#%d/%d\t%s\t%s\t%s\t%v\t%s\n", res.Flow, res.Round, res.Step,
			res.Kind, res.CorrelationID, res.State, res.Duration.Round(time.Millisecond), status))
	}
	sum := r.Summary()
	for k := psm.Connection; k <= psm.Proof; k++ {
		if c, ok := sum[k]; ok {
			try.To1(fmt.Fprintf(w, "%s: %d ok, %d failed\n", k, c[0], c[1]))
		}
	}
	return nil
}

// JSON returns the report with the per kind summary.
func (r *Report) JSON() ([]byte, error) {
	r.lk.Lock()
	defer r.lk.Unlock()

	sum := make(map[string]map[string]int)
	for k, c := range r.Summary() {
		sum[k.String()] = map[string]int{"ok": c[0], "failed": c[1]}
	}
	return json.Marshal(struct {
		Results []Result                  `json:"results"`
		Summary map[string]map[string]int `json:"summary"`
	}{r.Results, sum})
}

func (r *Report) sort() {
	sort.SliceStable(r.Results, func(i, j int) bool {
		a, b := r.Results[i], r.Results[j]
		if a.Flow != b.Flow {
			return a.Flow < b.Flow
		}
		if a.Round != b.Round {
			return a.Round < b.Round
		}
		return a.Step < b.Step
	})
}

type job struct {
	flow  Flow
	round int
}

// Run executes the flows with the bounded count of workers. Every flow is
// run Repeat times, and a flow stops at its first failed step. The results
// are ordered by the flow, the round and the step.
func (s *Scenario) Run(ctx context.Context, d *prot.Driver, workers int) *Report {
	if workers <= 0 {
		workers = 1
	}
	rep := &Report{}
	jobs := make(chan job)
	wg := sync.WaitGroup{}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				s.runFlow(ctx, d, j, rep)
			}
		}()
	}

feed:
	for _, f := range s.Flows {
		rounds := f.Repeat
		if rounds <= 0 {
			rounds = 1
		}
		for round := 1; round <= rounds; round++ {
			select {
			case jobs <- job{flow: f, round: round}:
			case <-ctx.Done():
				break feed
			}
		}
	}
	close(jobs)
	wg.Wait()

	rep.sort()
	return rep
}

// connections are the connection ids of the flow round by party pair.
type connections map[[2]string]string

func (c connections) add(ex psm.Exchange, initiator, responder string) {
	c[[2]string{initiator, responder}] = ex.CorrelationID
	if id := ex.Refs[prot.RefResponderConnectionID]; id != "" {
		c[[2]string{responder, initiator}] = id
	}
}

// lookup returns the connection id of the party to the peer.
func (c connections) lookup(explicit, party, peer string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if id, ok := c[[2]string{party, peer}]; ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: no connection from %s to %s", psm.ErrProtocolRejected, party, peer)
}

func (s *Scenario) runFlow(ctx context.Context, d *prot.Driver, j job, rep *Report) {
	conns := make(connections)
	for i, st := range j.flow.Steps {
		start := time.Now()
		ex, err := s.runStep(ctx, d, st, conns)
		res := Result{
			Flow:          j.flow.Name,
			Round:         j.round,
			Step:          i,
			Kind:          st.Kind(),
			CorrelationID: ex.CorrelationID,
			State:         ex.State,
			Duration:      time.Since(start),
		}
		if err != nil {
			res.Err = err.Error()
			res.Failure = failureClass(err)
			rep.add(res)
			glog.Warningf("flow %s#%d step %d: %v", j.flow.Name, j.round, i, err)
			return
		}
		rep.add(res)
	}
}

func failureClass(err error) string {
	if c := prot.ClassOf(err); c != nil {
		return c.Error()
	}
	return "error"
}

func (s *Scenario) runStep(
	ctx context.Context,
	d *prot.Driver,
	st Step,
	conns connections,
) (ex psm.Exchange, err error) {
	switch {
	case st.Connection != nil:
		c := st.Connection
		ex, err = d.RunConnectionExchange(ctx, s.Parties[c.Initiator], s.Parties[c.Responder])
		if err == nil {
			conns.add(ex, c.Initiator, c.Responder)
		}
	case st.Credential != nil:
		c := st.Credential
		connID, err := conns.lookup(c.ConnectionID, c.Issuer, c.Holder)
		if err != nil {
			return ex, err
		}
		offer := cloudapi.CredentialOffer{
			ConnectionID: connID,
			CredDefID:    c.CredDefID,
			Attributes:   c.Attributes,
		}
		ex, err = d.RunCredentialExchange(ctx, s.Parties[c.Issuer], s.Parties[c.Holder], offer)
		if err == nil && c.Revoke {
			ex, err = d.RevokeCredential(ctx, ex.CorrelationID)
		}
		return ex, err
	case st.Proof != nil:
		p := st.Proof
		connID, err := conns.lookup(p.ConnectionID, p.Verifier, p.Prover)
		if err != nil {
			return ex, err
		}
		req := cloudapi.ProofRequest{
			ConnectionID: connID,
			Attributes:   p.Attributes,
			Comment:      p.Comment,
		}
		return d.RunProofExchange(ctx, s.Parties[p.Verifier], s.Parties[p.Prover], req)
	}
	return ex, err
}
