package cmds

import (
	"bytes"
	"flag"
	"testing"
	"time"

	"github.com/findy-network/findy-exchange/agent/psm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCmd_Validate(t *testing.T) {
	tests := []struct {
		url string
		ok  bool
	}{
		{"http://localhost:8100", true},
		{"https://cloudapi.example.com", true},
		{"", false},
		{"ftp://localhost", false},
		{"://", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := Cmd{URL: tt.url}.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
	c := Cmd{URL: "http://localhost", Timeout: time.Second}.Client()
	assert.Equal(t, time.Second, c.HTTP.Timeout)
}

func TestValidateParty(t *testing.T) {
	assert.NoError(t, ValidateParty(psm.Party{WalletID: "w", APIKey: "k"}, "issuer"))
	assert.NoError(t, ValidateParty(psm.Party{WalletID: "w", BearerToken: "t"}, "issuer"))
	assert.Error(t, ValidateParty(psm.Party{APIKey: "k"}, "issuer"))
	err := ValidateParty(psm.Party{WalletID: "w"}, "holder")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "holder")
}

func TestParseAttrs(t *testing.T) {
	tests := []struct {
		in   string
		want map[string]string
	}{
		{`{"email":"a@b.c","name":"Alice"}`, map[string]string{"email": "a@b.c", "name": "Alice"}},
		{"email=a@b.c, name = Alice", map[string]string{"email": "a@b.c", "name": "Alice"}},
		{"", nil},
		{"email", nil},
		{"{bad", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAttrs(tt.in)
			if tt.want == nil {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLoggingArgs(t *testing.T) {
	ParseLoggingArgs("-logtostderr=true -v=4")
	assert.Equal(t, "4", flag.Lookup("v").Value.String())
	assert.Equal(t, "true", flag.Lookup("logtostderr").Value.String())
}

func TestFprint(t *testing.T) {
	var b bytes.Buffer
	Fprint(&b, "a")
	Fprintf(&b, "%d", 1)
	Fprintln(&b, "b")
	Fprintln(nil, "nothing")
	assert.Equal(t, "a1b\n", b.String())

	data, err := JSONResult{V: map[string]int{"n": 1}}.JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(data))
}
