// Package cloudapi is the client of the multi-tenant Cloud API. It attaches
// the party's opaque credentials to every call and has typed operations for
// the tenant endpoints the exchanges use.
package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/findy-network/findy-exchange/agent/psm"
	"github.com/golang/glog"
)

const (
	// APIKeyHeader carries the wallet's access token.
	APIKeyHeader = "x-api-key"

	TenantPrefix = "/tenant/v1"
	AdminPrefix  = "/tenant-admin/v1"

	maxErrBody = 4096
)

// StatusError is returned for the non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Temporary tells if the request can be retried: server errors, throttling
// and request timeouts are.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 ||
		e.Code == http.StatusTooManyRequests ||
		e.Code == http.StatusRequestTimeout
}

// Client is the Cloud API client. Zero HTTP clients are replaced with the
// defaults in New.
type Client struct {
	BaseURL string

	// HTTP is used for the request/response calls.
	HTTP *http.Client

	// Stream is used for the event streams and it must not have a timeout.
	Stream *http.Client
}

// New returns a client for the Cloud API at the base URL.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		Stream:  &http.Client{},
	}
}

func (c *Client) newRequest(
	ctx context.Context,
	method, path string,
	party psm.Party,
	body io.Reader,
) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if party.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+party.BearerToken)
	}
	if party.APIKey != "" {
		req.Header.Set(APIKeyHeader, party.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Do calls the endpoint as the party. The in is marshaled to the JSON body
// if it's not nil, and the response body is decoded to the out if it's not
// nil. Non-2xx responses return *StatusError, and the transport failures are
// wrapped with psm.ErrTransientNetwork.
func (c *Client) Do(
	ctx context.Context,
	method, path string,
	party psm.Party,
	in, out interface{},
) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s %s: marshal: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, party, body)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	glog.V(4).Infoln(party, method, path)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s %s: %w", method, path, ctx.Err())
		}
		return fmt.Errorf("%w: %s %s: %v", psm.ErrTransientNetwork, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return &StatusError{
			Method: method,
			Path:   path,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(b)),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: decode: %v", psm.ErrTransientNetwork, method, path, err)
	}
	return nil
}
