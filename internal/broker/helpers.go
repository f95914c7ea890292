package broker

import (
	"context"
	"fmt"
	"strings"
)

// FallbackLimitBracket composes a limit bracket for brokers without native
// bracket support: submit the limit entry, then leave TP/SL enforcement to
// the monitoring loop. It is exposed as a helper rather than embedded in a
// base type so each implementation opts in explicitly.
func FallbackLimitBracket(ctx context.Context, b Broker, req LimitBracketRequest) (*Order, error) {
	order, err := b.PlaceOrder(ctx, OrderRequest{
		Symbol:      req.Symbol,
		Qty:         req.Qty,
		Side:        req.Side,
		Type:        OrderLimit,
		LimitPrice:  req.LimitPrice,
		TimeInForce: req.TimeInForce,
	})
	if err != nil {
		return nil, fmt.Errorf("limit bracket fallback: %w", err)
	}
	return order, nil
}

// SyntheticTradeID builds a stable-while-unchanged position identifier for
// brokers that expose no per-position trade id (Tradier). It is persisted
// with the position snapshot; order_id remains the preferred lookup key.
func SyntheticTradeID(symbol string, qty, costBasis float64) string {
	return fmt.Sprintf("%s_%g_%.2f", symbol, qty, costBasis)
}

// IsForex reports whether a symbol looks like a currency pair rather than an
// equity, e.g. EUR_USD or EUR/USD.
func IsForex(symbol string) bool {
	s := strings.ReplaceAll(symbol, "/", "_")
	parts := strings.Split(s, "_")
	return len(parts) == 2 && len(parts[0]) == 3 && len(parts[1]) == 3
}

// SideForAction maps a strategy action onto an order side.
func SideForAction(action string) (OrderSide, error) {
	switch action {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	}
	return "", fmt.Errorf("action %q has no order side", action)
}
