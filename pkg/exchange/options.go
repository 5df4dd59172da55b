package exchange

import (
	"maps"
	"time"

	"perpgate/pkg/core"
)

type Option func(*Options)

// Options are the optional arguments shared by list and account calls. Zero
// values are not sent.
type Options struct {
	Since         time.Time
	Limit         int
	FromID        string
	ClientOrderID string
	PositionSide  string
	// Params are merged into the request last and override computed fields.
	Params core.Params
}

func WithSince(since time.Time) Option {
	return func(o *Options) {
		o.Since = since
	}
}

func WithLimit(limit int) Option {
	return func(o *Options) {
		o.Limit = limit
	}
}

// WithFromID pages from an order or trade id.
func WithFromID(id string) Option {
	return func(o *Options) {
		o.FromID = id
	}
}

// WithClientOrderID addresses an order by its client id instead of the
// exchange id.
func WithClientOrderID(id string) Option {
	return func(o *Options) {
		o.ClientOrderID = id
	}
}

func WithPositionSide(side string) Option {
	return func(o *Options) {
		o.PositionSide = side
	}
}

func WithParams(params core.Params) Option {
	return func(o *Options) {
		if o.Params == nil {
			o.Params = make(core.Params, len(params))
		}
		maps.Copy(o.Params, params)
	}
}

func ApplyOptions(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SinceMillis returns Since as exchange milliseconds, or 0 when unset.
func (o *Options) SinceMillis() int64 {
	if o.Since.IsZero() {
		return 0
	}
	return o.Since.UnixMilli()
}
