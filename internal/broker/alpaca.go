package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/tradewinds/internal/domain"
)

const (
	alpacaPaperURL = "https://paper-api.alpaca.markets"
	alpacaLiveURL  = "https://api.alpaca.markets"
)

// Alpaca implements Broker on top of the official Alpaca SDK. Alpaca has
// native bracket orders, so both bracket variants map onto OrderClass
// "bracket". The trade id for an Alpaca position is the entry order UUID.
type Alpaca struct {
	trading *alpaca.Client
	data    *marketdata.Client
	log     zerolog.Logger
}

// NewAlpaca builds an Alpaca broker. accountType "practice" targets the
// paper endpoint.
func NewAlpaca(apiKey, apiSecret, accountType string, log zerolog.Logger) *Alpaca {
	baseURL := alpacaLiveURL
	if accountType != "live" {
		baseURL = alpacaPaperURL
	}
	return &Alpaca{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
		}),
		log: log.With().Str("broker", "alpaca").Str("account_type", accountType).Logger(),
	}
}

func (a *Alpaca) Name() string { return "alpaca" }

func (a *Alpaca) TestConnection(ctx context.Context) error {
	if _, err := a.trading.GetAccount(); err != nil {
		return fmt.Errorf("alpaca connection test failed: %w", err)
	}
	return nil
}

func (a *Alpaca) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	acct, err := a.trading.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("alpaca get account: %w", err)
	}
	return &AccountInfo{
		Currency:       acct.Currency,
		Cash:           acct.Cash.InexactFloat64(),
		BuyingPower:    acct.BuyingPower.InexactFloat64(),
		PortfolioValue: acct.PortfolioValue.InexactFloat64(),
	}, nil
}

func (a *Alpaca) GetPositions(ctx context.Context) ([]Position, error) {
	raw, err := a.trading.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("alpaca get positions: %w", err)
	}
	out := make([]Position, 0, len(raw))
	for i := range raw {
		out = append(out, a.convertPosition(&raw[i]))
	}
	return out, nil
}

func (a *Alpaca) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	raw, err := a.trading.GetPosition(symbol)
	if err != nil {
		// Alpaca answers 404 when there is no position for the symbol.
		if apiErr, ok := err.(*alpaca.APIError); ok && apiErr.StatusCode == 404 {
			return nil, nil
		}
		return nil, fmt.Errorf("alpaca get position %s: %w", symbol, err)
	}
	p := a.convertPosition(raw)
	return &p, nil
}

func (a *Alpaca) HasActiveSymbol(ctx context.Context, symbol string) (bool, error) {
	p, err := a.GetPosition(ctx, symbol)
	if err != nil {
		return false, err
	}
	return p != nil, nil
}

func (a *Alpaca) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	qty := decimal.NewFromFloat(req.Qty)
	por := alpaca.PlaceOrderRequest{
		Symbol:      req.Symbol,
		Qty:         &qty,
		Side:        alpaca.Side(req.Side),
		Type:        alpaca.OrderType(req.Type),
		TimeInForce: alpaca.TimeInForce(req.TimeInForce),
	}
	if req.LimitPrice > 0 {
		lp := decimal.NewFromFloat(req.LimitPrice)
		por.LimitPrice = &lp
	}
	if req.StopPrice > 0 {
		sp := decimal.NewFromFloat(req.StopPrice)
		por.StopPrice = &sp
	}
	raw, err := a.trading.PlaceOrder(por)
	if err != nil {
		return nil, fmt.Errorf("alpaca place order: %w", err)
	}
	o := a.convertOrder(raw)
	return &o, nil
}

func (a *Alpaca) PlaceBracketOrder(ctx context.Context, req BracketRequest) (*Order, error) {
	qty := decimal.NewFromFloat(req.Qty)
	tp := decimal.NewFromFloat(req.TakeProfit)
	sl := decimal.NewFromFloat(req.StopLoss)
	raw, err := a.trading.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:      req.Symbol,
		Qty:         &qty,
		Side:        alpaca.Side(req.Side),
		Type:        alpaca.Market,
		TimeInForce: alpaca.TimeInForce(req.TimeInForce),
		OrderClass:  alpaca.Bracket,
		TakeProfit:  &alpaca.TakeProfit{LimitPrice: &tp},
		StopLoss:    &alpaca.StopLoss{StopPrice: &sl},
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca place bracket order: %w", err)
	}
	o := a.convertOrder(raw)
	return &o, nil
}

func (a *Alpaca) PlaceLimitBracketOrder(ctx context.Context, req LimitBracketRequest) (*Order, error) {
	qty := decimal.NewFromFloat(req.Qty)
	limit := decimal.NewFromFloat(req.LimitPrice)
	tp := decimal.NewFromFloat(req.TakeProfit)
	sl := decimal.NewFromFloat(req.StopLoss)
	raw, err := a.trading.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:      req.Symbol,
		Qty:         &qty,
		Side:        alpaca.Side(req.Side),
		Type:        alpaca.Limit,
		LimitPrice:  &limit,
		TimeInForce: alpaca.TimeInForce(req.TimeInForce),
		OrderClass:  alpaca.Bracket,
		TakeProfit:  &alpaca.TakeProfit{LimitPrice: &tp},
		StopLoss:    &alpaca.StopLoss{StopPrice: &sl},
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca place limit bracket order: %w", err)
	}
	o := a.convertOrder(raw)
	return &o, nil
}

func (a *Alpaca) GetOrders(ctx context.Context) ([]Order, error) {
	raw, err := a.trading.GetOrders(alpaca.GetOrdersRequest{Status: "open", Limit: 500})
	if err != nil {
		return nil, fmt.Errorf("alpaca get orders: %w", err)
	}
	out := make([]Order, 0, len(raw))
	for i := range raw {
		out = append(out, a.convertOrder(&raw[i]))
	}
	return out, nil
}

func (a *Alpaca) CancelOrder(ctx context.Context, orderID string) error {
	if err := a.trading.CancelOrder(orderID); err != nil {
		return fmt.Errorf("alpaca cancel order %s: %w", orderID, err)
	}
	return nil
}

func (a *Alpaca) ClosePosition(ctx context.Context, symbol string, qty float64) (*CloseResult, error) {
	var req alpaca.ClosePositionRequest
	if qty > 0 {
		req.Qty = decimal.NewFromFloat(qty)
	}
	raw, err := a.trading.ClosePosition(symbol, req)
	if err != nil {
		return nil, fmt.Errorf("alpaca close position %s: %w", symbol, err)
	}
	return &CloseResult{Success: true, OrderID: raw.ID}, nil
}

func (a *Alpaca) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	q, err := a.data.GetLatestQuote(symbol, marketdata.GetLatestQuoteRequest{})
	if err != nil {
		return nil, fmt.Errorf("alpaca get quote %s: %w", symbol, err)
	}
	return &Quote{
		Bid:  q.BidPrice,
		Ask:  q.AskPrice,
		Last: (q.BidPrice + q.AskPrice) / 2,
	}, nil
}

func (a *Alpaca) GetRecentCandles(ctx context.Context, symbol string, tf domain.Timeframe, count int) ([]domain.Candle, error) {
	bars, err := a.data.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame:  alpacaTimeFrame(tf),
		Start:      time.Now().Add(-time.Duration(count*4) * tf.Duration()),
		TotalLimit: count,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca get bars %s: %w", symbol, err)
	}
	out := make([]domain.Candle, 0, len(bars))
	for _, b := range bars {
		out = append(out, domain.Candle{
			Ticker:    symbol,
			Timeframe: tf,
			Timestamp: b.Timestamp,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    float64(b.Volume),
		})
	}
	return out, nil
}

// GetTradeDetails resolves realized P&L for a closed Alpaca trade. Alpaca
// has no per-trade endpoint, so the entry order is looked up by id and the
// closing fill is located among closed orders for the same symbol submitted
// after the entry.
func (a *Alpaca) GetTradeDetails(ctx context.Context, tradeID, orderID string) (*TradeDetails, error) {
	id := orderID
	if id == "" {
		id = tradeID
	}
	if id == "" {
		return &TradeDetails{Found: false}, nil
	}

	entry, err := a.trading.GetOrder(id)
	if err != nil {
		if apiErr, ok := err.(*alpaca.APIError); ok && apiErr.StatusCode == 404 {
			return &TradeDetails{Found: false}, nil
		}
		return nil, fmt.Errorf("alpaca get order %s: %w", id, err)
	}
	if entry.FilledAvgPrice == nil || entry.FilledAt == nil {
		return &TradeDetails{Found: true, State: "open", Instrument: entry.Symbol}, nil
	}

	entryPrice := entry.FilledAvgPrice.InexactFloat64()
	qty := entry.FilledQty.InexactFloat64()

	// Still holding? Then the trade is open.
	if pos, err := a.GetPosition(ctx, entry.Symbol); err != nil {
		return nil, err
	} else if pos != nil {
		return &TradeDetails{
			Found:        true,
			State:        "open",
			UnrealizedPL: pos.UnrealizedPL,
			Instrument:   entry.Symbol,
			OpenPrice:    entryPrice,
			Units:        qty,
		}, nil
	}

	closed, err := a.trading.GetOrders(alpaca.GetOrdersRequest{
		Status:  "closed",
		Symbols: []string{entry.Symbol},
		After:   *entry.FilledAt,
		Limit:   100,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca get closed orders for %s: %w", entry.Symbol, err)
	}

	direction := 1.0
	if entry.Side == alpaca.Sell {
		direction = -1.0
	}
	for i := range closed {
		o := &closed[i]
		if o.ID == entry.ID || o.FilledAvgPrice == nil || o.Side == entry.Side {
			continue
		}
		exitPrice := o.FilledAvgPrice.InexactFloat64()
		realized := (exitPrice - entryPrice) * qty * direction
		closeTime := o.FilledAt
		return &TradeDetails{
			Found:      true,
			State:      "closed",
			RealizedPL: realized,
			CloseTime:  closeTime,
			Instrument: entry.Symbol,
			OpenPrice:  entryPrice,
			ClosePrice: exitPrice,
			Units:      qty,
		}, nil
	}

	// Filled entry, no position, no closing fill yet visible.
	return &TradeDetails{Found: false}, nil
}

func (a *Alpaca) convertPosition(p *alpaca.Position) Position {
	pos := Position{
		Symbol:        p.Symbol,
		Qty:           p.Qty.InexactFloat64(),
		Side:          PositionSide(p.Side),
		AvgEntryPrice: p.AvgEntryPrice.InexactFloat64(),
		CostBasis:     p.CostBasis.InexactFloat64(),
	}
	if p.CurrentPrice != nil {
		pos.CurrentPrice = p.CurrentPrice.InexactFloat64()
	}
	if p.MarketValue != nil {
		pos.MarketValue = p.MarketValue.InexactFloat64()
	}
	if p.UnrealizedPL != nil {
		pos.UnrealizedPL = p.UnrealizedPL.InexactFloat64()
	}
	if p.UnrealizedPLPC != nil {
		pos.UnrealizedPLPercent = p.UnrealizedPLPC.InexactFloat64() * 100
	}
	return pos
}

func (a *Alpaca) convertOrder(o *alpaca.Order) Order {
	out := Order{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          OrderSide(o.Side),
		Type:          OrderType(o.Type),
		Status:        string(o.Status),
		SubmittedAt:   o.SubmittedAt,
		TradeID:       o.ID, // Alpaca: the order UUID doubles as the trade id
	}
	if o.Qty != nil {
		out.Qty = o.Qty.InexactFloat64()
	}
	if o.LimitPrice != nil {
		out.LimitPrice = o.LimitPrice.InexactFloat64()
	}
	if o.StopPrice != nil {
		out.StopPrice = o.StopPrice.InexactFloat64()
	}
	if o.FilledAvgPrice != nil {
		out.FilledPrice = o.FilledAvgPrice.InexactFloat64()
	}
	out.FilledQty = o.FilledQty.InexactFloat64()
	return out
}

func alpacaTimeFrame(tf domain.Timeframe) marketdata.TimeFrame {
	switch tf {
	case domain.Timeframe1m:
		return marketdata.NewTimeFrame(1, marketdata.Min)
	case domain.Timeframe5m:
		return marketdata.NewTimeFrame(5, marketdata.Min)
	case domain.Timeframe15m:
		return marketdata.NewTimeFrame(15, marketdata.Min)
	case domain.Timeframe1h:
		return marketdata.NewTimeFrame(1, marketdata.Hour)
	case domain.Timeframe4h:
		return marketdata.NewTimeFrame(4, marketdata.Hour)
	default:
		return marketdata.NewTimeFrame(1, marketdata.Day)
	}
}
