package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	f := NewFake()

	order, err := f.PlaceOrder(ctx, OrderRequest{
		Symbol: "AAPL", Qty: 10, Side: SideBuy, Type: OrderMarket,
	})
	require.NoError(t, err)
	require.NotEmpty(t, order.ID)

	orders, err := f.GetOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	require.NoError(t, f.CancelOrder(ctx, order.ID))
	assert.Equal(t, []string{order.ID}, f.CancelledOrders())

	orders, err = f.GetOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)

	assert.Error(t, f.CancelOrder(ctx, "nope"))
}

func TestFakePositions(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	f.SetPosition(Position{Symbol: "TSLA", Qty: 5, AvgEntryPrice: 250})

	has, err := f.HasActiveSymbol(ctx, "TSLA")
	require.NoError(t, err)
	assert.True(t, has)

	p, err := f.GetPosition(ctx, "TSLA")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 5.0, p.Qty)

	// Unknown symbols return nil, nil rather than an error.
	p, err = f.GetPosition(ctx, "MSFT")
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = f.ClosePosition(ctx, "TSLA", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"TSLA"}, f.ClosedSymbols())

	has, err = f.HasActiveSymbol(ctx, "TSLA")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestFakeOutage(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	f.Err = errors.New("broker down")

	_, err := f.GetAccountInfo(ctx)
	assert.Error(t, err)
	_, err = f.PlaceOrder(ctx, OrderRequest{Symbol: "AAPL", Qty: 1, Side: SideBuy})
	assert.Error(t, err)
	_, err = f.HasActiveSymbol(ctx, "AAPL")
	assert.Error(t, err)
	assert.Error(t, f.TestConnection(ctx))
}

func TestFakeTradeDetails(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	f.SetTradeDetails("ord-1", TradeDetails{Found: true, State: "closed", RealizedPL: 42.5})

	// Lookup by order id when trade id misses.
	td, err := f.GetTradeDetails(ctx, "", "ord-1")
	require.NoError(t, err)
	assert.True(t, td.Found)
	assert.Equal(t, "closed", td.State)
	assert.Equal(t, 42.5, td.RealizedPL)

	td, err = f.GetTradeDetails(ctx, "unknown", "also-unknown")
	require.NoError(t, err)
	assert.False(t, td.Found)
}
