package exchange

import (
	"bytes"
	"flag"
	"os"
	"testing"
	"time"

	"github.com/findy-network/findy-exchange/agent/cloudapi/cloudapitest"
	"github.com/findy-network/findy-exchange/agent/psm"
	"github.com/findy-network/findy-exchange/cmds"
	"github.com/lainio/err2/try"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	try.To(flag.Set("logtostderr", "true"))
	try.To(flag.Set("stderrthreshold", "WARNING"))
	try.To(flag.Set("v", "3"))
	flag.Parse()

	os.Exit(m.Run())
}

func newCmd(t *testing.T) Cmd {
	fake := cloudapitest.New()
	t.Cleanup(fake.Close)
	return Cmd{
		Cmd:       cmds.Cmd{URL: fake.URL, Timeout: 5 * time.Second},
		Initiator: fake.AddTenant("issuer"),
		Responder: fake.AddTenant("holder"),
	}
}

func TestCmd_Validate(t *testing.T) {
	ok := Cmd{
		Cmd:       cmds.Cmd{URL: "http://localhost:8100"},
		Initiator: psm.Party{WalletID: "w-1", APIKey: "k-1"},
		Responder: psm.Party{WalletID: "w-2", BearerToken: "t-2"},
	}
	same := ok
	same.Responder.WalletID = "w-1"
	noURL := ok
	noURL.URL = ""

	tests := []struct {
		name string
		cmd  cmds.Command
		ok   bool
	}{
		{"connection", ConnectionCmd{Cmd: ok}, true},
		{"same wallet", ConnectionCmd{Cmd: same}, false},
		{"no url", ConnectionCmd{Cmd: noURL}, false},
		{"no responder", ConnectionCmd{Cmd: Cmd{Cmd: ok.Cmd, Initiator: ok.Initiator}}, false},
		{"credential", CredentialCmd{Cmd: ok, CredDefID: "cd-1",
			Attributes: map[string]string{"email": "a@b.c"}}, true},
		{"no cred def", CredentialCmd{Cmd: ok,
			Attributes: map[string]string{"email": "a@b.c"}}, false},
		{"no values", CredentialCmd{Cmd: ok, CredDefID: "cd-1"}, false},
		{"proof", ProofCmd{Cmd: ok, Attributes: []string{"email"}}, true},
		{"no proof attrs", ProofCmd{Cmd: ok}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestConnectionCmd_Exec(t *testing.T) {
	var b bytes.Buffer
	r, err := ConnectionCmd{Cmd: newCmd(t)}.Exec(&b)
	require.NoError(t, err)

	res := r.(Result)
	assert.Nil(t, res.Connection)
	assert.Equal(t, psm.Completed, res.Exchange.State)
	assert.Contains(t, b.String(), "connection "+res.Exchange.CorrelationID+" completed")

	data, err := r.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"connection"`)
	assert.NotContains(t, string(data), "tenant.")
}

func TestCredentialCmd_Exec(t *testing.T) {
	c := CredentialCmd{
		Cmd:        newCmd(t),
		CredDefID:  "cd-1",
		Attributes: map[string]string{"email": "alice@example.com"},
		Revoke:     true,
	}
	r, err := c.Exec(nil)
	require.NoError(t, err)

	res := r.(Result)
	require.NotNil(t, res.Connection)
	assert.Equal(t, psm.Completed, res.Connection.State)
	assert.Equal(t, psm.Credential, res.Exchange.Kind)
	assert.Equal(t, psm.Revoked, res.Exchange.State)
}

func TestProofCmd_Exec(t *testing.T) {
	base := newCmd(t)
	r, err := ConnectionCmd{Cmd: base}.Exec(nil)
	require.NoError(t, err)
	connID := r.(Result).Exchange.CorrelationID

	r, err = ProofCmd{
		Cmd:          base,
		ConnectionID: connID,
		Attributes:   []string{"email"},
	}.Exec(nil)
	require.NoError(t, err)

	res := r.(Result)
	assert.Nil(t, res.Connection)
	assert.Equal(t, psm.Done, res.Exchange.State)
}

func TestCredentialCmd_UnknownConnection(t *testing.T) {
	c := CredentialCmd{
		Cmd:          newCmd(t),
		ConnectionID: "no-such-connection",
		CredDefID:    "cd-1",
		Attributes:   map[string]string{"email": "alice@example.com"},
	}
	_, err := c.Exec(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, psm.ErrProtocolRejected)
}
