package broker

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Credentials carries every broker API credential from configuration. It is
// passed as a constructor dependency, never read from globals.
type Credentials struct {
	AlpacaAPIKey    string
	AlpacaAPISecret string
	OandaAPIKey     string
	TradierAPIKey   string
}

// Factory resolves broker instances from pipeline configuration.
type Factory struct {
	creds Credentials
	log   zerolog.Logger

	mu    sync.Mutex
	cache map[Key]Broker
}

// NewFactory creates a broker factory.
func NewFactory(creds Credentials, log zerolog.Logger) *Factory {
	return &Factory{
		creds: creds,
		log:   log.With().Str("component", "broker_factory").Logger(),
		cache: make(map[Key]Broker),
	}
}

// Resolve builds a broker for the given key. Paper-mode pipelines without a
// broker type fall back to the in-memory fake.
func (f *Factory) Resolve(key Key) (Broker, error) {
	switch key.BrokerType {
	case "alpaca":
		return NewAlpaca(f.creds.AlpacaAPIKey, f.creds.AlpacaAPISecret, key.AccountType, f.log), nil
	case "oanda":
		return NewOanda(f.creds.OandaAPIKey, key.AccountID, key.AccountType, f.log), nil
	case "tradier":
		return NewTradier(f.creds.TradierAPIKey, key.AccountID, key.AccountType, f.log), nil
	case "", "fake":
		return NewFake(), nil
	}
	return nil, fmt.Errorf("unknown broker type %q", key.BrokerType)
}

// ResolveCached returns a shared broker instance per key. Reconciliation
// uses this to bound connection count across users.
func (f *Factory) ResolveCached(key Key) (Broker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.cache[key]; ok {
		return b, nil
	}
	b, err := f.Resolve(key)
	if err != nil {
		return nil, err
	}
	f.cache[key] = b
	return b, nil
}
