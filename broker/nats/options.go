package nats

import (
	"github.com/micro/go-kv/broker"
	natsp "github.com/nats-io/nats.go"
)

type optionsKey struct{}
type drainConnectionKey struct{}

// Options accepts nats.Options.
func Options(opts natsp.Options) broker.Option {
	return broker.SetOption(optionsKey{}, opts)
}

// DrainConnection will drain subscription on close.
func DrainConnection() broker.Option {
	return broker.SetOption(drainConnectionKey{}, struct{}{})
}
