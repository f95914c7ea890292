package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/tradewinds/internal/domain"
)

// Fake is an in-memory broker used for paper mode and tests. Every call can
// be made to fail by setting Err; orders and positions are scripted through
// the exported setters.
type Fake struct {
	mu sync.Mutex

	// Err, when set, is returned by every API call. Simulates an outage.
	Err error

	account   AccountInfo
	positions map[string]Position
	orders    map[string]Order
	trades    map[string]TradeDetails
	quotes    map[string]Quote
	candles   map[string][]domain.Candle

	cancelled []string
	closed    []string
	placed    []Order
}

// NewFake creates an empty fake broker with a funded paper account.
func NewFake() *Fake {
	return &Fake{
		account:   AccountInfo{Currency: "USD", Cash: 100000, BuyingPower: 200000, PortfolioValue: 100000},
		positions: make(map[string]Position),
		orders:    make(map[string]Order),
		trades:    make(map[string]TradeDetails),
		quotes:    make(map[string]Quote),
		candles:   make(map[string][]domain.Candle),
	}
}

func (f *Fake) Name() string { return "fake" }

// SetPosition scripts an open position.
func (f *Fake) SetPosition(p Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[p.Symbol] = p
}

// RemovePosition scripts the position disappearing (closed at the broker).
func (f *Fake) RemovePosition(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.positions, symbol)
}

// SetOpenOrder scripts an open order.
func (f *Fake) SetOpenOrder(o Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[o.ID] = o
}

// RemoveOrder scripts an order leaving the open-orders book.
func (f *Fake) RemoveOrder(orderID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.orders, orderID)
}

// SetTradeDetails scripts the answer to GetTradeDetails for an id.
func (f *Fake) SetTradeDetails(id string, td TradeDetails) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades[id] = td
}

// SetQuote scripts the quote for a symbol.
func (f *Fake) SetQuote(symbol string, q Quote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[symbol] = q
}

// SetCandles scripts recent candles for a symbol.
func (f *Fake) SetCandles(symbol string, cs []domain.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candles[symbol] = cs
}

// CancelledOrders returns the ids passed to CancelOrder, in order.
func (f *Fake) CancelledOrders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

// ClosedSymbols returns the symbols passed to ClosePosition, in order.
func (f *Fake) ClosedSymbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...)
}

// PlacedOrders returns every order submitted through the fake.
func (f *Fake) PlacedOrders() []Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Order(nil), f.placed...)
}

func (f *Fake) TestConnection(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Err
}

func (f *Fake) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	acct := f.account
	return &acct, nil
}

func (f *Fake) GetPositions(ctx context.Context) ([]Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]Position, 0, len(f.positions))
	for _, p := range f.positions {
		out = append(out, p)
	}
	return out, nil
}

func (f *Fake) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	p, ok := f.positions[symbol]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *Fake) HasActiveSymbol(ctx context.Context, symbol string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return false, f.Err
	}
	_, ok := f.positions[symbol]
	return ok, nil
}

func (f *Fake) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	return f.record(req.Symbol, req.Qty, req.Side, req.Type, req.LimitPrice, req.StopPrice)
}

func (f *Fake) PlaceBracketOrder(ctx context.Context, req BracketRequest) (*Order, error) {
	return f.record(req.Symbol, req.Qty, req.Side, OrderMarket, 0, req.StopLoss)
}

func (f *Fake) PlaceLimitBracketOrder(ctx context.Context, req LimitBracketRequest) (*Order, error) {
	return f.record(req.Symbol, req.Qty, req.Side, OrderLimit, req.LimitPrice, req.StopLoss)
}

func (f *Fake) record(symbol string, qty float64, side OrderSide, typ OrderType, limit, stop float64) (*Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	o := Order{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		Qty:         qty,
		Side:        side,
		Type:        typ,
		Status:      "accepted",
		LimitPrice:  limit,
		StopPrice:   stop,
		SubmittedAt: time.Now().UTC(),
	}
	f.placed = append(f.placed, o)
	f.orders[o.ID] = o
	return &o, nil
}

func (f *Fake) GetOrders(ctx context.Context) ([]Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]Order, 0, len(f.orders))
	for _, o := range f.orders {
		out = append(out, o)
	}
	return out, nil
}

func (f *Fake) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if _, ok := f.orders[orderID]; !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	delete(f.orders, orderID)
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *Fake) ClosePosition(ctx context.Context, symbol string, qty float64) (*CloseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	delete(f.positions, symbol)
	f.closed = append(f.closed, symbol)
	return &CloseResult{Success: true}, nil
}

func (f *Fake) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	q, ok := f.quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("no quote for %s", symbol)
	}
	return &q, nil
}

func (f *Fake) GetRecentCandles(ctx context.Context, symbol string, tf domain.Timeframe, count int) ([]domain.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	cs := f.candles[symbol]
	if len(cs) > count {
		cs = cs[len(cs)-count:]
	}
	return append([]domain.Candle(nil), cs...), nil
}

func (f *Fake) GetTradeDetails(ctx context.Context, tradeID, orderID string) (*TradeDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if td, ok := f.trades[tradeID]; ok {
		return &td, nil
	}
	if td, ok := f.trades[orderID]; ok {
		return &td, nil
	}
	return &TradeDetails{Found: false}, nil
}
