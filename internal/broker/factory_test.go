package broker

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryResolve(t *testing.T) {
	f := NewFactory(Credentials{}, zerolog.Nop())

	b, err := f.Resolve(Key{BrokerType: "fake"})
	require.NoError(t, err)
	assert.Equal(t, "fake", b.Name())

	// Empty broker type also falls back to the fake.
	b, err = f.Resolve(Key{})
	require.NoError(t, err)
	assert.Equal(t, "fake", b.Name())

	b, err = f.Resolve(Key{BrokerType: "alpaca", AccountType: "paper"})
	require.NoError(t, err)
	assert.Equal(t, "alpaca", b.Name())

	b, err = f.Resolve(Key{BrokerType: "oanda", AccountID: "001", AccountType: "practice"})
	require.NoError(t, err)
	assert.Equal(t, "oanda", b.Name())

	b, err = f.Resolve(Key{BrokerType: "tradier", AccountID: "acct"})
	require.NoError(t, err)
	assert.Equal(t, "tradier", b.Name())

	_, err = f.Resolve(Key{BrokerType: "robinhood"})
	assert.Error(t, err)
}

func TestFactoryResolveCachedSharesInstances(t *testing.T) {
	f := NewFactory(Credentials{}, zerolog.Nop())

	key := Key{BrokerType: "oanda", AccountID: "001", AccountType: "practice"}
	a, err := f.ResolveCached(key)
	require.NoError(t, err)
	b, err := f.ResolveCached(key)
	require.NoError(t, err)
	assert.Same(t, a, b)

	other, err := f.ResolveCached(Key{BrokerType: "oanda", AccountID: "002", AccountType: "practice"})
	require.NoError(t, err)
	assert.NotSame(t, a, other)
}
