package cmds

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/findy-network/findy-exchange/agent/cloudapi"
	"github.com/findy-network/findy-exchange/agent/psm"
	"github.com/findy-network/findy-exchange/agent/utils"
	"github.com/lainio/err2/try"
)

var ErrInvalid = errors.New("invalid command, check arguments")

// Cmd is the base of the commands which use the Cloud API.
type Cmd struct {
	URL     string `cmd_usage:"cloud api url is required"`
	Timeout time.Duration
}

func (c Cmd) Validate() error {
	if c.URL == "" {
		return errors.New("cloud api url cannot be empty")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("cloud api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("cloud api url scheme must be http or https: %q", c.URL)
	}
	return nil
}

// Client returns the Cloud API client of the command.
func (c Cmd) Client() *cloudapi.Client {
	to := c.Timeout
	if to == 0 {
		to = utils.Settings.Timeout()
	}
	return cloudapi.New(c.URL, to)
}

// ValidateParty checks that the party can be used in the requests.
func ValidateParty(p psm.Party, role string) error {
	if p.WalletID == "" {
		return fmt.Errorf("%s wallet id cannot be empty", role)
	}
	if p.APIKey == "" && p.BearerToken == "" {
		return fmt.Errorf("%s api key or bearer token is required", role)
	}
	return nil
}

type Result interface {
	JSON() ([]byte, error)
}

type Command interface {
	Validate() error
	Exec(w io.Writer) (r Result, err error)
}

// JSONResult is the Result for any JSON marshalable value.
type JSONResult struct {
	V interface{}
}

func (r JSONResult) JSON() ([]byte, error) {
	return json.Marshal(r.V)
}

// Fprintln is fmt.Fprintln but it allows writer to be nil. Note! it throws an
// error.
func Fprintln(w io.Writer, a ...interface{}) {
	if w != nil {
		try.To1(fmt.Fprintln(w, a...))
	}
}

// Fprintf is fmt.Fprintf but it allows writer to be nil. Note! it throws an
// error.
func Fprintf(w io.Writer, format string, a ...interface{}) {
	if w != nil {
		try.To1(fmt.Fprintf(w, format, a...))
	}
}

// Fprint is fmt.Fprint but it allows writer to be nil. Note! it throws an
// error.
func Fprint(w io.Writer, a ...interface{}) {
	if w != nil {
		try.To1(fmt.Fprint(w, a...))
	}
}

// Progress prints dots to w until the returned channel is closed.
func Progress(w io.Writer) chan<- struct{} {
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(300 * time.Millisecond):
				if w != nil {
					_, _ = fmt.Fprint(w, ".")
				}
			}
		}
	}()
	return done
}

// ParseAttrs parses the credential attributes given as a JSON object or as
// name=value pairs separated by commas.
func ParseAttrs(s string) (attrs map[string]string, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("attributes cannot be empty")
	}
	if strings.HasPrefix(s, "{") {
		if err := json.Unmarshal([]byte(s), &attrs); err != nil {
			return nil, fmt.Errorf("attributes: %w", err)
		}
		return attrs, nil
	}
	attrs = make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("attribute %q: want name=value", pair)
		}
		attrs[name] = strings.TrimSpace(value)
	}
	return attrs, nil
}

// ParseLoggingArgs sets the glog flags from the argument string like
// "-logtostderr=true -v=2".
func ParseLoggingArgs(s string) {
	args := make([]string, 1, 12)
	args[0] = os.Args[0]
	args = append(args, strings.Fields(s)...)
	orgArgs := os.Args
	os.Args = args
	flag.Parse()
	os.Args = orgArgs
}
