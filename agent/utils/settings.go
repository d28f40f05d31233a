package utils

import (
	"time"
)

// Defaults of the exchange runtime. They follow the waiting policy the Cloud
// API event streams need in practice.
const (
	HTTPReqTimeout = 1 * time.Minute

	DefaultMaxEmptyPings    = 3
	DefaultStreamRetries    = 5
	DefaultStreamRetryDelay = 2 * time.Second
	DefaultLookBack         = 45 * time.Second

	DefaultRequestAttempts = 5
	DefaultRequestDelay    = 2 * time.Second

	DefaultWaitRetries  = 2
	DefaultStepTimeout  = 30 * time.Second
	DefaultLedgerStep   = 60 * time.Second
	DefaultFirstEvent   = 10 * time.Second
	DefaultStaleAfter   = 5 * time.Minute
	DefaultRetireAfter  = 10 * time.Minute
	DefaultSweepMinutes = 1
)

var Settings = &Hub{}

// Hub is the runtime settings of the process. The zero values mean the
// defaults.
type Hub struct {
	versionInfo string        // Version number etc. in free format as a string
	timeout     time.Duration // timeout setting for http requests

	maxEmptyPings    int
	streamRetries    int
	streamRetryDelay time.Duration
	lookBack         time.Duration

	stepTimeout time.Duration // timeout of the single protocol step
	staleAfter  time.Duration // non terminal exchanges are abandoned after
	retireAfter time.Duration // terminal exchanges are retired after

	localTestMode bool // tells if are running unit tests
}

func (h *Hub) LocalTestMode() bool {
	return h.localTestMode
}

func (h *Hub) SetLocalTestMode(localTestMode bool) {
	h.localTestMode = localTestMode
}

// SetTimeout sets the default timeout for HTTP requests.
func (h *Hub) SetTimeout(to time.Duration) {
	h.timeout = to
}

func (h *Hub) Timeout() time.Duration {
	if h.timeout == 0 {
		return HTTPReqTimeout
	}
	return h.timeout
}

// SetVersionInfo sets current version info of this coordinator. The info is
// shown in the status API.
func (h *Hub) SetVersionInfo(info string) {
	h.versionInfo = info
}

func (h *Hub) VersionInfo() string {
	if h.versionInfo == "" {
		return Version
	}
	return h.versionInfo
}

func (h *Hub) SetMaxEmptyPings(n int) {
	h.maxEmptyPings = n
}

// MaxEmptyPings is the count of consecutive keep-alives which means a dead
// stream.
func (h *Hub) MaxEmptyPings() int {
	if h.maxEmptyPings <= 0 {
		return DefaultMaxEmptyPings
	}
	return h.maxEmptyPings
}

func (h *Hub) SetStreamRetries(n int) {
	h.streamRetries = n
}

func (h *Hub) StreamRetries() int {
	if h.streamRetries <= 0 {
		return DefaultStreamRetries
	}
	return h.streamRetries
}

func (h *Hub) SetStreamRetryDelay(d time.Duration) {
	h.streamRetryDelay = d
}

func (h *Hub) StreamRetryDelay() time.Duration {
	if h.streamRetryDelay <= 0 {
		return DefaultStreamRetryDelay
	}
	return h.streamRetryDelay
}

func (h *Hub) SetLookBack(d time.Duration) {
	h.lookBack = d
}

// LookBack is the window of the events replayed when a stream is (re)opened.
func (h *Hub) LookBack() time.Duration {
	if h.lookBack <= 0 {
		return DefaultLookBack
	}
	return h.lookBack
}

func (h *Hub) SetStepTimeout(d time.Duration) {
	h.stepTimeout = d
}

func (h *Hub) StepTimeout() time.Duration {
	if h.stepTimeout <= 0 {
		return DefaultStepTimeout
	}
	return h.stepTimeout
}

func (h *Hub) SetStaleAfter(d time.Duration) {
	h.staleAfter = d
}

func (h *Hub) StaleAfter() time.Duration {
	if h.staleAfter <= 0 {
		return DefaultStaleAfter
	}
	return h.staleAfter
}

func (h *Hub) SetRetireAfter(d time.Duration) {
	h.retireAfter = d
}

func (h *Hub) RetireAfter() time.Duration {
	if h.retireAfter <= 0 {
		return DefaultRetireAfter
	}
	return h.retireAfter
}
