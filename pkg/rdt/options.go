package rdt

import (
	"time"

	"github.com/pkg/errors"
)

// Variant selects which sliding-window protocol an Endpoint speaks. The
// two are wire-incompatible; both peers must agree out of band.
type Variant int

const (
	GoBackN Variant = iota
	SelectiveRepeat
)

func (v Variant) String() string {
	switch v {
	case GoBackN:
		return "gbn"
	case SelectiveRepeat:
		return "sr"
	default:
		return "unknown"
	}
}

// Defaults per spec.md §6.
const (
	DefaultTimeout      = 3 * time.Second
	DefaultBasicTimeout = 500 * time.Millisecond
	DefaultWindowSize   = 3
	DefaultLossRateGBN  = 0.1
	DefaultLossRateSR   = 0.2
	MaxTimeoutRounds    = 10
	srCloseMaxTimeouts  = 3
	srRecvMaxCycles     = 50
)

type config struct {
	window       int
	lossRate     float64
	timeout      time.Duration
	basicTimeout time.Duration
	maxTimeout   int
	bufferSize   int
	lossSeed     int64
	eventBus     eventBus
}

func defaultConfig(v Variant) config {
	lossRate := DefaultLossRateGBN
	if v == SelectiveRepeat {
		lossRate = DefaultLossRateSR
	}
	return config{
		window:       DefaultWindowSize,
		lossRate:     lossRate,
		timeout:      DefaultTimeout,
		basicTimeout: DefaultBasicTimeout,
		maxTimeout:   MaxTimeoutRounds,
		bufferSize:   BufferSize,
		lossSeed:     1,
	}
}

// Option configures an Endpoint at Dial/Listen time, following the
// functional-options idiom generalized from the teacher's positional
// NewSession/NewServer constructors.
type Option func(*config)

// WithWindow sets the (initial, for SR) congestion window.
func WithWindow(n int) Option {
	return func(c *config) { c.window = n }
}

// WithLossRate sets the loss injector's drop probability in [0, 1).
func WithLossRate(p float64) Option {
	return func(c *config) { c.lossRate = p }
}

// WithLossSeed pins the loss injector's PRNG seed, for reproducible tests.
func WithLossSeed(seed int64) Option {
	return func(c *config) { c.lossSeed = seed }
}

// WithTimeout overrides the retransmit timeout (GBN main timer, SR
// per-packet timeout threshold, and handshake/close timers).
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithBasicTimeout overrides SR's receive-poll granularity.
func WithBasicTimeout(d time.Duration) Option {
	return func(c *config) { c.basicTimeout = d }
}

// WithMaxTimeout overrides the consecutive-timeout abort threshold.
func WithMaxTimeout(n int) Option {
	return func(c *config) { c.maxTimeout = n }
}

// WithBufferSize overrides the per-chunk payload size.
func WithBufferSize(n int) Option {
	return func(c *config) { c.bufferSize = n }
}

// WithEventHandler registers an observer for connection lifecycle events.
func WithEventHandler(h EventHandler) Option {
	return func(c *config) { c.eventBus.register(h) }
}

func (c config) validate() error {
	if c.window <= 0 {
		return errors.Errorf("rdt: window must be positive, got %d", c.window)
	}
	if c.window > 128 {
		return errors.Errorf("rdt: window %d exceeds the 128-chunk batch cap", c.window)
	}
	if c.lossRate < 0 || c.lossRate >= 1 {
		return errors.Errorf("rdt: loss rate must be in [0,1), got %f", c.lossRate)
	}
	if c.timeout <= 0 || c.basicTimeout <= 0 {
		return errors.New("rdt: timeouts must be positive")
	}
	if c.maxTimeout <= 0 {
		return errors.New("rdt: max timeout rounds must be positive")
	}
	if c.bufferSize <= 0 {
		return errors.New("rdt: buffer size must be positive")
	}
	return nil
}
