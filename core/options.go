package core

import (
	"time"

	"github.com/go-logr/logr"
)

// Server defaults
const (
	DefaultBufferSize     = 4096
	DefaultCommandTimeout = 100 * time.Millisecond
	DefaultStopRetries    = 10
	DefaultStopPoll       = 100 * time.Millisecond
	DefaultHistorySize    = 32
)

// Options tunes a command server. Zero fields take the defaults above.
type Options struct {
	BufferSize     int           // size of each transfer buffer in bytes
	CommandTimeout time.Duration // response and SET BUF receive timeout
	StopRetries    int
	StopPoll       time.Duration
	HistorySize    int // executed commands kept for History

	Log       logr.Logger
	Indicator Indicator
}

// DefaultOptions returns Options with every field set to its default
func DefaultOptions() Options {
	var o Options
	o.applyDefaults()
	return o
}

func (o *Options) applyDefaults() {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.StopRetries <= 0 {
		o.StopRetries = DefaultStopRetries
	}
	if o.StopPoll <= 0 {
		o.StopPoll = DefaultStopPoll
	}
	if o.HistorySize <= 0 {
		o.HistorySize = DefaultHistorySize
	}
	if o.Log.GetSink() == nil {
		o.Log = logr.Discard()
	}
	if o.Indicator == nil {
		o.Indicator = NopIndicator{}
	}
}
