package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradewinds/internal/domain"
)

const (
	tradierLiveURL    = "https://api.tradier.com/v1"
	tradierSandboxURL = "https://sandbox.tradier.com/v1"
)

// Tradier implements Broker against the Tradier REST API. Tradier exposes no
// per-position trade id; a synthetic id derived from the position snapshot is
// reported instead, and order_id is preferred end-to-end for lookups.
type Tradier struct {
	apiKey    string
	accountID string
	baseURL   string
	http      *http.Client
	log       zerolog.Logger
}

// NewTradier builds a Tradier broker for the given account.
func NewTradier(apiKey, accountID, accountType string, log zerolog.Logger) *Tradier {
	baseURL := tradierSandboxURL
	if accountType == "live" {
		baseURL = tradierLiveURL
	}
	return &Tradier{
		apiKey:    apiKey,
		accountID: accountID,
		baseURL:   baseURL,
		http:      newBrokerHTTPClient(),
		log:       log.With().Str("broker", "tradier").Str("account_id", accountID).Logger(),
	}
}

func (t *Tradier) Name() string { return "tradier" }

func (t *Tradier) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("tradier build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("tradier %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("tradier read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("tradier %s %s: status %d: %s", method, path, resp.StatusCode, truncate(string(data), 200))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("tradier decode response: %w", err)
		}
	}
	return nil
}

func (t *Tradier) accountPath(suffix string) string {
	return "/accounts/" + t.accountID + suffix
}

func (t *Tradier) TestConnection(ctx context.Context) error {
	_, err := t.GetAccountInfo(ctx)
	return err
}

func (t *Tradier) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	var resp struct {
		Balances struct {
			TotalCash   float64 `json:"total_cash"`
			TotalEquity float64 `json:"total_equity"`
			Cash        struct {
				CashAvailable float64 `json:"cash_available"`
			} `json:"cash"`
			Margin struct {
				StockBuyingPower float64 `json:"stock_buying_power"`
			} `json:"margin"`
		} `json:"balances"`
	}
	if err := t.do(ctx, http.MethodGet, t.accountPath("/balances"), nil, &resp); err != nil {
		return nil, fmt.Errorf("tradier get balances: %w", err)
	}
	buyingPower := resp.Balances.Margin.StockBuyingPower
	if buyingPower == 0 {
		buyingPower = resp.Balances.Cash.CashAvailable
	}
	return &AccountInfo{
		Currency:       "USD",
		Cash:           resp.Balances.TotalCash,
		BuyingPower:    buyingPower,
		PortfolioValue: resp.Balances.TotalEquity,
	}, nil
}

type tradierPosition struct {
	Symbol    string  `json:"symbol"`
	Quantity  float64 `json:"quantity"`
	CostBasis float64 `json:"cost_basis"`
}

func (t *Tradier) GetPositions(ctx context.Context) ([]Position, error) {
	var resp struct {
		Positions json.RawMessage `json:"positions"`
	}
	if err := t.do(ctx, http.MethodGet, t.accountPath("/positions"), nil, &resp); err != nil {
		return nil, fmt.Errorf("tradier get positions: %w", err)
	}
	raw := tradierUnwrap[tradierPosition](resp.Positions, "position")

	out := make([]Position, 0, len(raw))
	for _, p := range raw {
		side := PositionLong
		if p.Quantity < 0 {
			side = PositionShort
		}
		qty := abs(p.Quantity)
		avg := 0.0
		if qty > 0 {
			avg = abs(p.CostBasis) / qty
		}
		pos := Position{
			Symbol:        p.Symbol,
			Qty:           qty,
			Side:          side,
			AvgEntryPrice: avg,
			CostBasis:     abs(p.CostBasis),
			BrokerData: map[string]interface{}{
				// Tradier has no per-position id; the synthetic id is stable
				// only while the position does not change.
				"trade_id": SyntheticTradeID(p.Symbol, p.Quantity, p.CostBasis),
			},
		}
		if q, err := t.GetQuote(ctx, p.Symbol); err == nil {
			pos.CurrentPrice = q.Last
			pos.MarketValue = q.Last * qty
			pos.UnrealizedPL = pos.MarketValue - pos.CostBasis
			if pos.CostBasis > 0 {
				pos.UnrealizedPLPercent = pos.UnrealizedPL / pos.CostBasis * 100
			}
		}
		out = append(out, pos)
	}
	return out, nil
}

func (t *Tradier) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	positions, err := t.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if strings.EqualFold(positions[i].Symbol, symbol) {
			return &positions[i], nil
		}
	}
	return nil, nil
}

func (t *Tradier) HasActiveSymbol(ctx context.Context, symbol string) (bool, error) {
	p, err := t.GetPosition(ctx, symbol)
	if err != nil {
		return false, err
	}
	return p != nil, nil
}

func (t *Tradier) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	form := url.Values{}
	form.Set("class", "equity")
	form.Set("symbol", req.Symbol)
	form.Set("side", string(req.Side))
	form.Set("quantity", strconv.FormatFloat(req.Qty, 'f', -1, 64))
	form.Set("type", string(req.Type))
	form.Set("duration", tradierDuration(req.TimeInForce))
	if req.LimitPrice > 0 {
		form.Set("price", strconv.FormatFloat(req.LimitPrice, 'f', 2, 64))
	}
	if req.StopPrice > 0 {
		form.Set("stop", strconv.FormatFloat(req.StopPrice, 'f', 2, 64))
	}
	return t.submit(ctx, form, req.Symbol, req.Qty, req.Side, req.Type, req.LimitPrice)
}

// PlaceBracketOrder submits a market entry; Tradier's OTOCO class requires a
// priced entry leg, so market entries rely on the monitoring loop for exits.
func (t *Tradier) PlaceBracketOrder(ctx context.Context, req BracketRequest) (*Order, error) {
	return t.PlaceOrder(ctx, OrderRequest{
		Symbol:      req.Symbol,
		Qty:         req.Qty,
		Side:        req.Side,
		Type:        OrderMarket,
		TimeInForce: req.TimeInForce,
	})
}

// PlaceLimitBracketOrder uses Tradier's native OTOCO class: a limit entry
// that on fill triggers an OCO pair of take-profit limit and stop-loss stop.
func (t *Tradier) PlaceLimitBracketOrder(ctx context.Context, req LimitBracketRequest) (*Order, error) {
	exitSide := SideSell
	if req.Side == SideSell {
		exitSide = SideBuy
	}
	qty := strconv.FormatFloat(req.Qty, 'f', -1, 64)

	form := url.Values{}
	form.Set("class", "otoco")
	form.Set("duration", tradierDuration(req.TimeInForce))

	form.Set("symbol[0]", req.Symbol)
	form.Set("side[0]", string(req.Side))
	form.Set("quantity[0]", qty)
	form.Set("type[0]", "limit")
	form.Set("price[0]", strconv.FormatFloat(req.LimitPrice, 'f', 2, 64))

	form.Set("symbol[1]", req.Symbol)
	form.Set("side[1]", string(exitSide))
	form.Set("quantity[1]", qty)
	form.Set("type[1]", "limit")
	form.Set("price[1]", strconv.FormatFloat(req.TakeProfit, 'f', 2, 64))

	form.Set("symbol[2]", req.Symbol)
	form.Set("side[2]", string(exitSide))
	form.Set("quantity[2]", qty)
	form.Set("type[2]", "stop")
	form.Set("stop[2]", strconv.FormatFloat(req.StopLoss, 'f', 2, 64))

	return t.submit(ctx, form, req.Symbol, req.Qty, req.Side, OrderLimit, req.LimitPrice)
}

func (t *Tradier) submit(ctx context.Context, form url.Values, symbol string, qty float64, side OrderSide, typ OrderType, limit float64) (*Order, error) {
	var resp struct {
		Order struct {
			ID     json.Number `json:"id"`
			Status string      `json:"status"`
		} `json:"order"`
	}
	if err := t.do(ctx, http.MethodPost, t.accountPath("/orders"), form, &resp); err != nil {
		return nil, fmt.Errorf("tradier place order: %w", err)
	}
	return &Order{
		ID:          resp.Order.ID.String(),
		Symbol:      symbol,
		Qty:         qty,
		Side:        side,
		Type:        typ,
		Status:      resp.Order.Status,
		LimitPrice:  limit,
		SubmittedAt: time.Now().UTC(),
	}, nil
}

type tradierOrder struct {
	ID           json.Number `json:"id"`
	Symbol       string      `json:"symbol"`
	Side         string      `json:"side"`
	Quantity     float64     `json:"quantity"`
	Type         string      `json:"type"`
	Status       string      `json:"status"`
	Price        float64     `json:"price"`
	AvgFillPrice float64     `json:"avg_fill_price"`
	ExecQuantity float64     `json:"exec_quantity"`
	CreateDate   string      `json:"create_date"`
}

func (t *Tradier) GetOrders(ctx context.Context) ([]Order, error) {
	var resp struct {
		Orders json.RawMessage `json:"orders"`
	}
	if err := t.do(ctx, http.MethodGet, t.accountPath("/orders"), nil, &resp); err != nil {
		return nil, fmt.Errorf("tradier get orders: %w", err)
	}
	raw := tradierUnwrap[tradierOrder](resp.Orders, "order")
	out := make([]Order, 0, len(raw))
	for _, r := range raw {
		if !tradierOpenStatus(r.Status) {
			continue
		}
		out = append(out, t.convertOrder(r))
	}
	return out, nil
}

func (t *Tradier) convertOrder(r tradierOrder) Order {
	submitted, _ := time.Parse("2006-01-02T15:04:05.000Z", r.CreateDate)
	return Order{
		ID:          r.ID.String(),
		Symbol:      r.Symbol,
		Qty:         r.Quantity,
		Side:        OrderSide(r.Side),
		Type:        OrderType(r.Type),
		Status:      r.Status,
		LimitPrice:  r.Price,
		FilledPrice: r.AvgFillPrice,
		FilledQty:   r.ExecQuantity,
		SubmittedAt: submitted,
	}
}

func tradierOpenStatus(status string) bool {
	switch status {
	case "open", "pending", "partially_filled", "calculated", "accepted_for_bidding":
		return true
	}
	return false
}

func (t *Tradier) CancelOrder(ctx context.Context, orderID string) error {
	if err := t.do(ctx, http.MethodDelete, t.accountPath("/orders/"+orderID), nil, nil); err != nil {
		return fmt.Errorf("tradier cancel order %s: %w", orderID, err)
	}
	return nil
}

func (t *Tradier) ClosePosition(ctx context.Context, symbol string, qty float64) (*CloseResult, error) {
	pos, err := t.GetPosition(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return &CloseResult{Success: false}, fmt.Errorf("no open position for %s", symbol)
	}
	closeQty := pos.Qty
	if qty > 0 && qty < closeQty {
		closeQty = qty
	}
	side := SideSell
	if pos.Side == PositionShort {
		side = SideBuy
	}
	order, err := t.PlaceOrder(ctx, OrderRequest{
		Symbol:      symbol,
		Qty:         closeQty,
		Side:        side,
		Type:        OrderMarket,
		TimeInForce: TIFDay,
	})
	if err != nil {
		return nil, fmt.Errorf("tradier close position %s: %w", symbol, err)
	}
	return &CloseResult{Success: true, OrderID: order.ID}, nil
}

func (t *Tradier) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	var resp struct {
		Quotes struct {
			Quote json.RawMessage `json:"quote"`
		} `json:"quotes"`
	}
	path := "/markets/quotes?symbols=" + url.QueryEscape(symbol)
	if err := t.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	var q struct {
		Bid  float64 `json:"bid"`
		Ask  float64 `json:"ask"`
		Last float64 `json:"last"`
	}
	if err := json.Unmarshal(resp.Quotes.Quote, &q); err != nil {
		// Multi-symbol requests answer with an array; we only ever ask
		// for one, but tolerate both shapes.
		var qs []struct {
			Bid  float64 `json:"bid"`
			Ask  float64 `json:"ask"`
			Last float64 `json:"last"`
		}
		if err2 := json.Unmarshal(resp.Quotes.Quote, &qs); err2 != nil || len(qs) == 0 {
			return nil, fmt.Errorf("tradier decode quote for %s: %w", symbol, err)
		}
		q = qs[0]
	}
	return &Quote{Bid: q.Bid, Ask: q.Ask, Last: q.Last}, nil
}

func (t *Tradier) GetRecentCandles(ctx context.Context, symbol string, tf domain.Timeframe, count int) ([]domain.Candle, error) {
	interval := "1min"
	switch tf {
	case domain.Timeframe5m:
		interval = "5min"
	case domain.Timeframe15m:
		interval = "15min"
	case domain.TimeframeD:
		return t.dailyCandles(ctx, symbol, count)
	}
	var resp struct {
		Series struct {
			Data json.RawMessage `json:"data"`
		} `json:"series"`
	}
	start := time.Now().Add(-time.Duration(count*2) * tf.Duration())
	path := fmt.Sprintf("/markets/timesales?symbol=%s&interval=%s&start=%s",
		url.QueryEscape(symbol), interval, start.Format("2006-01-02 15:04"))
	if err := t.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	type bar struct {
		Time   string  `json:"time"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume float64 `json:"volume"`
	}
	bars := tradierUnwrapRaw[bar](resp.Series.Data)
	out := make([]domain.Candle, 0, len(bars))
	for _, b := range bars {
		ts, err := time.Parse("2006-01-02T15:04:05", b.Time)
		if err != nil {
			continue
		}
		out = append(out, domain.Candle{
			Ticker:    symbol,
			Timeframe: tf,
			Timestamp: ts,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	if len(out) > count {
		out = out[len(out)-count:]
	}
	return out, nil
}

func (t *Tradier) dailyCandles(ctx context.Context, symbol string, count int) ([]domain.Candle, error) {
	var resp struct {
		History struct {
			Day json.RawMessage `json:"day"`
		} `json:"history"`
	}
	start := time.Now().AddDate(0, 0, -count*2)
	path := fmt.Sprintf("/markets/history?symbol=%s&interval=daily&start=%s",
		url.QueryEscape(symbol), start.Format("2006-01-02"))
	if err := t.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	type day struct {
		Date   string  `json:"date"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume float64 `json:"volume"`
	}
	days := tradierUnwrapRaw[day](resp.History.Day)
	out := make([]domain.Candle, 0, len(days))
	for _, d := range days {
		ts, err := time.Parse("2006-01-02", d.Date)
		if err != nil {
			continue
		}
		out = append(out, domain.Candle{
			Ticker:    symbol,
			Timeframe: domain.TimeframeD,
			Timestamp: ts,
			Open:      d.Open,
			High:      d.High,
			Low:       d.Low,
			Close:     d.Close,
			Volume:    d.Volume,
		})
	}
	if len(out) > count {
		out = out[len(out)-count:]
	}
	return out, nil
}

// GetTradeDetails resolves by order id (Tradier has no trade endpoint):
// the entry order supplies the fill, and a later opposite-side fill for the
// same symbol supplies the exit.
func (t *Tradier) GetTradeDetails(ctx context.Context, tradeID, orderID string) (*TradeDetails, error) {
	id := orderID
	if id == "" {
		id = tradeID
	}
	if id == "" {
		return &TradeDetails{Found: false}, nil
	}
	var resp struct {
		Order tradierOrder `json:"order"`
	}
	if err := t.do(ctx, http.MethodGet, t.accountPath("/orders/"+id), nil, &resp); err != nil {
		if err == errNotFound {
			return &TradeDetails{Found: false}, nil
		}
		return nil, fmt.Errorf("tradier get order %s: %w", id, err)
	}
	entry := resp.Order
	if entry.AvgFillPrice == 0 || entry.ExecQuantity == 0 {
		return &TradeDetails{Found: true, State: "open", Instrument: entry.Symbol}, nil
	}

	if pos, err := t.GetPosition(ctx, entry.Symbol); err != nil {
		return nil, err
	} else if pos != nil {
		return &TradeDetails{
			Found:        true,
			State:        "open",
			UnrealizedPL: pos.UnrealizedPL,
			Instrument:   entry.Symbol,
			OpenPrice:    entry.AvgFillPrice,
			Units:        entry.ExecQuantity,
		}, nil
	}

	// Position gone: find the closing fill among all account orders.
	var all struct {
		Orders json.RawMessage `json:"orders"`
	}
	if err := t.do(ctx, http.MethodGet, t.accountPath("/orders"), nil, &all); err != nil {
		return nil, fmt.Errorf("tradier list orders: %w", err)
	}
	entryTime, _ := time.Parse("2006-01-02T15:04:05.000Z", entry.CreateDate)
	for _, o := range tradierUnwrap[tradierOrder](all.Orders, "order") {
		if o.ID.String() == id || !strings.EqualFold(o.Symbol, entry.Symbol) {
			continue
		}
		if o.Side == entry.Side || o.Status != "filled" || o.AvgFillPrice == 0 {
			continue
		}
		closeTime, _ := time.Parse("2006-01-02T15:04:05.000Z", o.CreateDate)
		if closeTime.Before(entryTime) {
			continue
		}
		direction := 1.0
		if entry.Side == "sell" || entry.Side == "sell_short" {
			direction = -1.0
		}
		realized := (o.AvgFillPrice - entry.AvgFillPrice) * entry.ExecQuantity * direction
		return &TradeDetails{
			Found:      true,
			State:      "closed",
			RealizedPL: realized,
			CloseTime:  &closeTime,
			Instrument: entry.Symbol,
			OpenPrice:  entry.AvgFillPrice,
			ClosePrice: o.AvgFillPrice,
			Units:      entry.ExecQuantity,
		}, nil
	}
	return &TradeDetails{Found: false}, nil
}

func tradierDuration(tif TimeInForce) string {
	if tif == TIFGTC {
		return "gtc"
	}
	return "day"
}

// tradierUnwrap handles Tradier's single-vs-array-vs-"null" JSON shapes for
// wrapped collections like {"positions":{"position":[...]}}.
func tradierUnwrap[T any](raw json.RawMessage, key string) []T {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == `"null"` || trimmed == "null" {
		return nil
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil
	}
	return tradierUnwrapRaw[T](wrapper[key])
}

func tradierUnwrapRaw[T any](raw json.RawMessage) []T {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	var many []T
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	var one T
	if err := json.Unmarshal(raw, &one); err == nil {
		return []T{one}
	}
	return nil
}
