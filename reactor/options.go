// File: reactor/options.go
// Author: momentics <momentics@gmail.com>
//
// Provider options and statistics shared by all strategies.

package reactor

import (
	"github.com/momentics/hiolink/control"
	"github.com/sirupsen/logrus"
)

// DefaultMaxCallbackFailures is the number of consecutive failing callbacks
// after which a channel is unregistered and closed.
const DefaultMaxCallbackFailures = 3

// Strategy names reported by Provider.Strategy.
const (
	StrategyDual     = "dual"
	StrategySingle   = "single"
	StrategyStealing = "stealing"
)

// Options tune a provider. Zero values select defaults.
type Options struct {
	// Workers sizes the callback pool of dual and single providers.
	Workers int
	// QueueSize bounds pending callbacks of dual and single providers.
	QueueSize int
	// MaxCallbackFailures; <= 0 means DefaultMaxCallbackFailures.
	MaxCallbackFailures int
	Logger              logrus.FieldLogger
	Metrics             *control.Metrics
}

func (o Options) maxFailures() int {
	if o.MaxCallbackFailures <= 0 {
		return DefaultMaxCallbackFailures
	}
	return o.MaxCallbackFailures
}

func (o Options) logger(strategy string) logrus.FieldLogger {
	return control.OrDiscard(o.Logger).WithFields(logrus.Fields{
		"component": "provider",
		"strategy":  strategy,
	})
}

// Stats is a point-in-time view of a provider.
type Stats struct {
	Strategy string
	// Load holds registered channels per selector.
	Load []int
	// Events counts dispatched readiness events.
	Events int64
	// Steals counts tasks migrated between stealing workers.
	Steals int64
	// Failures counts failed callbacks.
	Failures int64
	// Evictions counts channels closed for repeated failures.
	Evictions int64
}
