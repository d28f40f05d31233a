package coordinator

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/findy-network/findy-exchange/agent/cloudapi/cloudapitest"
	"github.com/findy-network/findy-exchange/agent/psm"
	"github.com/findy-network/findy-exchange/cmds"
	"github.com/lainio/err2/try"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var tmpDir string

func TestMain(m *testing.M) {
	try.To(flag.Set("logtostderr", "true"))
	try.To(flag.Set("stderrthreshold", "WARNING"))
	try.To(flag.Set("v", "3"))
	flag.Parse()

	tmpDir = try.To1(os.MkdirTemp("", "run-cmd"))
	code := m.Run()
	os.RemoveAll(tmpDir)
	os.Exit(code)
}

const scenarioTmpl = `
parties:
  issuer: {wallet_id: %s, api_key: %s}
  holder: {wallet_id: %s, api_key: %s}
flows:
  - name: onboard
    steps:
      - connection: {initiator: issuer, responder: holder}
      - credential:
          issuer: issuer
          holder: holder
          cred_def_id: cd-1
          attributes: {email: alice@example.com}
      - proof: {verifier: issuer, prover: holder, attributes: [email]}
`

func writeScenario(t *testing.T, fake *cloudapitest.Server, name string) string {
	issuer, holder := fake.AddTenant("issuer"), fake.AddTenant("holder")
	filename := filepath.Join(tmpDir, name)
	data := fmt.Sprintf(scenarioTmpl, issuer.WalletID, issuer.APIKey,
		holder.WalletID, holder.APIKey)
	require.NoError(t, os.WriteFile(filename, []byte(data), 0o600))
	return filename
}

func freePort(t *testing.T) int {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := lis.Addr().(*net.TCPAddr).Port
	require.NoError(t, lis.Close())
	return port
}

func TestRunCmd_Validate(t *testing.T) {
	filename := filepath.Join(tmpDir, "validate.yaml")
	require.NoError(t, os.WriteFile(filename, []byte("flows: []"), 0o600))
	base := cmds.Cmd{URL: "http://localhost:8100"}

	tests := []struct {
		name string
		cmd  RunCmd
		ok   bool
	}{
		{"ok", RunCmd{Cmd: base, Scenario: filename}, true},
		{"no url", RunCmd{Scenario: filename}, false},
		{"no scenario", RunCmd{Cmd: base}, false},
		{"missing file", RunCmd{Cmd: base, Scenario: filename + ".x"}, false},
		{"workers", RunCmd{Cmd: base, Scenario: filename, Workers: -1}, false},
		{"sweep", RunCmd{Cmd: base, Scenario: filename, SweepMinutes: -1}, false},
		{"serve nothing", RunCmd{Cmd: base, Scenario: filename, Serve: true}, false},
		{"serve", RunCmd{Cmd: base, Scenario: filename, Serve: true, ServerPort: 8090}, true},
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

func TestRunCmd_Exec(t *testing.T) {
	fake := cloudapitest.New()
	defer fake.Close()

	c := RunCmd{
		Cmd:          cmds.Cmd{URL: fake.URL, Timeout: 5 * time.Second},
		Scenario:     writeScenario(t, fake, "exec.yaml"),
		Workers:      2,
		PsmDB:        filepath.Join(tmpDir, "exec.bolt"),
		SweepMinutes: 1,
		Verbose:      true,
	}
	require.NoError(t, c.Validate())

	var b bytes.Buffer
	r, err := c.Exec(&b)
	require.NoError(t, err)

	rep := r.(Result).Report
	require.Len(t, rep.Results, 3)
	assert.Equal(t, 0, rep.Failed())
	assert.Contains(t, b.String(), "offer-sent -> offer-received")
	assert.Contains(t, b.String(), "proof: 1 ok, 0 failed")

	data, err := r.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"summary"`)
}

func TestRunCmd_Failure(t *testing.T) {
	fake := cloudapitest.New()
	defer fake.Close()

	filename := writeScenario(t, fake, "failure.yaml")
	c := RunCmd{
		Cmd:      cmds.Cmd{URL: fake.URL, Timeout: 5 * time.Second},
		Scenario: filename,
	}
	// the wallets are unknown to the second fake
	other := cloudapitest.New()
	defer other.Close()
	c.URL = other.URL

	r, err := c.Exec(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 exchanges failed")
	rep := r.(Result).Report
	assert.Equal(t, psm.Connection, rep.Results[0].Kind)
	assert.Equal(t, psm.ErrProtocolRejected.Error(), rep.Results[0].Failure)
}

func TestRunCmd_Health(t *testing.T) {
	fake := cloudapitest.New()
	defer fake.Close()

	port := freePort(t)
	c := RunCmd{
		Cmd:      cmds.Cmd{URL: fake.URL, Timeout: 5 * time.Second},
		Scenario: writeScenario(t, fake, "health.yaml"),
		GRPCPort: port,
	}
	stop := c.startServices(nil)

	conn, err := grpc.Dial(fmt.Sprintf("127.0.0.1:%d", port),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	stop()
}
