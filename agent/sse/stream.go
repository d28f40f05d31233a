package sse

import (
	"io"
	"time"

	"github.com/findy-network/findy-exchange/agent/psm"
)

// Request is the scope of one event stream: the wallet's events of the topic
// replayed from the look-back window.
type Request struct {
	WalletID    string
	Topic       string
	LookBack    time.Duration
	Credentials psm.Party
}

// Stream is an open event stream.
type Stream interface {
	Next() (Event, error)
	Close() error
}

// ReadCloserStream is a Stream over the response body.
type ReadCloserStream struct {
	*Reader
	rc io.ReadCloser
}

func NewStream(rc io.ReadCloser) *ReadCloserStream {
	return &ReadCloserStream{Reader: NewReader(rc), rc: rc}
}

func (s *ReadCloserStream) Close() error {
	return s.rc.Close()
}
