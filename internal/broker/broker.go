// Package broker defines the capability interface every broker integration
// implements, plus shared order/position types. Brokers preserve their
// native bracket-order semantics where the API supports them; otherwise the
// helpers in this package compose limit + OCO children.
package broker

import (
	"context"
	"time"

	"github.com/aristath/tradewinds/internal/domain"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType selects the order mechanics.
type OrderType string

const (
	OrderMarket    OrderType = "market"
	OrderLimit     OrderType = "limit"
	OrderStop      OrderType = "stop"
	OrderStopLimit OrderType = "stop_limit"
)

// TimeInForce controls order lifetime.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFIOC TimeInForce = "ioc"
	TIFFOK TimeInForce = "fok"
)

// PositionSide distinguishes long from short exposure.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// Position is a normalized open position.
type Position struct {
	Symbol              string                 `json:"symbol"`
	Qty                 float64                `json:"qty"`
	Side                PositionSide           `json:"side"`
	AvgEntryPrice       float64                `json:"avg_entry_price"`
	CurrentPrice        float64                `json:"current_price"`
	MarketValue         float64                `json:"market_value"`
	CostBasis           float64                `json:"cost_basis"`
	UnrealizedPL        float64                `json:"unrealized_pl"`
	UnrealizedPLPercent float64                `json:"unrealized_pl_percent"`
	BrokerData          map[string]interface{} `json:"broker_data,omitempty"`
}

// Order is a normalized broker order.
type Order struct {
	ID            string                 `json:"id"`
	ClientOrderID string                 `json:"client_order_id,omitempty"`
	Symbol        string                 `json:"symbol"`
	Qty           float64                `json:"qty"`
	Side          OrderSide              `json:"side"`
	Type          OrderType              `json:"type"`
	Status        string                 `json:"status"`
	LimitPrice    float64                `json:"limit_price,omitempty"`
	StopPrice     float64                `json:"stop_price,omitempty"`
	FilledPrice   float64                `json:"filled_price,omitempty"`
	FilledQty     float64                `json:"filled_qty,omitempty"`
	TradeID       string                 `json:"trade_id,omitempty"`
	SubmittedAt   time.Time              `json:"submitted_at"`
	BrokerData    map[string]interface{} `json:"broker_data,omitempty"`
}

// TradeDetails carries the broker-authoritative accounting for one trade.
// It is the only legitimate source of realized P&L in the system.
type TradeDetails struct {
	Found        bool                   `json:"found"`
	State        string                 `json:"state"` // open, closed
	RealizedPL   float64                `json:"realized_pl"`
	UnrealizedPL float64                `json:"unrealized_pl"`
	CloseTime    *time.Time             `json:"close_time,omitempty"`
	Instrument   string                 `json:"instrument"`
	OpenPrice    float64                `json:"open_price"`
	ClosePrice   float64                `json:"close_price,omitempty"`
	Units        float64                `json:"units"`
	BrokerData   map[string]interface{} `json:"broker_data,omitempty"`
}

// AccountInfo is a normalized account snapshot.
type AccountInfo struct {
	Currency       string  `json:"currency"`
	Cash           float64 `json:"cash"`
	BuyingPower    float64 `json:"buying_power"`
	PortfolioValue float64 `json:"portfolio_value"`
}

// CloseResult reports the outcome of a close-position request.
type CloseResult struct {
	Success    bool                   `json:"success"`
	OrderID    string                 `json:"order_id,omitempty"`
	BrokerData map[string]interface{} `json:"broker_data,omitempty"`
}

// Quote is a lightweight top-of-book quote from the broker.
type Quote struct {
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	Last float64 `json:"last"`
}

// Broker is the capability interface all broker integrations satisfy.
// Implementations must propagate API errors to callers. HasActiveSymbol in
// particular must never swallow them, because callers treat the error case
// differently from a clean false.
type Broker interface {
	Name() string

	TestConnection(ctx context.Context) error
	GetAccountInfo(ctx context.Context) (*AccountInfo, error)

	GetPositions(ctx context.Context) ([]Position, error)
	GetPosition(ctx context.Context, symbol string) (*Position, error)
	HasActiveSymbol(ctx context.Context, symbol string) (bool, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)
	PlaceBracketOrder(ctx context.Context, req BracketRequest) (*Order, error)
	PlaceLimitBracketOrder(ctx context.Context, req LimitBracketRequest) (*Order, error)
	GetOrders(ctx context.Context) ([]Order, error)
	CancelOrder(ctx context.Context, orderID string) error

	ClosePosition(ctx context.Context, symbol string, qty float64) (*CloseResult, error)

	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetRecentCandles(ctx context.Context, symbol string, tf domain.Timeframe, count int) ([]domain.Candle, error)

	// GetTradeDetails resolves by whichever identifier is meaningful for
	// this broker's API: OANDA uses tradeID, Alpaca and Tradier the orderID.
	GetTradeDetails(ctx context.Context, tradeID, orderID string) (*TradeDetails, error)
}

// OrderRequest is a plain order submission.
type OrderRequest struct {
	Symbol      string
	Qty         float64
	Side        OrderSide
	Type        OrderType
	LimitPrice  float64
	StopPrice   float64
	TimeInForce TimeInForce
}

// BracketRequest is a market entry with attached TP/SL children.
type BracketRequest struct {
	Symbol      string
	Qty         float64
	Side        OrderSide
	TakeProfit  float64
	StopLoss    float64
	TimeInForce TimeInForce
}

// LimitBracketRequest is a limit entry with attached TP/SL children.
type LimitBracketRequest struct {
	Symbol      string
	Qty         float64
	Side        OrderSide
	LimitPrice  float64
	TakeProfit  float64
	StopLoss    float64
	TimeInForce TimeInForce
}

// Key identifies a broker instance for caching. Reconciliation caches
// clients per key to bound connection count.
type Key struct {
	BrokerType  string
	AccountID   string
	AccountType string
}
