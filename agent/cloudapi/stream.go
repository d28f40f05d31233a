package cloudapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/findy-network/findy-exchange/agent/psm"
	"github.com/findy-network/findy-exchange/agent/sse"
	"github.com/golang/glog"
)

// SSEPath returns the path of the wallet's event stream of the topic.
func SSEPath(walletID, topic string) string {
	return TenantPrefix + "/sse/" + url.PathEscape(walletID) + "/" + url.PathEscape(topic)
}

// Open opens the event stream of the wallet. The stream ends when the
// context is cancelled or the stream is closed. It implements the event
// source of the subscriber.
func (c *Client) Open(ctx context.Context, r sse.Request) (sse.Stream, error) {
	path := SSEPath(r.WalletID, r.Topic)
	if r.LookBack > 0 {
		path += "?look_back=" + strconv.Itoa(int(r.LookBack.Seconds()))
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, r.Credentials, nil)
	if err != nil {
		return nil, fmt.Errorf("open stream %s: %w", path, err)
	}
	req.Header.Set("Accept", "text/event-stream")

	client := c.Stream
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: open stream %s: %v", psm.ErrTransientNetwork, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		resp.Body.Close()
		return nil, &StatusError{Method: http.MethodGet, Path: path,
			Code: resp.StatusCode, Body: string(b)}
	}
	glog.V(3).Infoln(r.Credentials, "stream opened:", path)
	return sse.NewStream(resp.Body), nil
}
