package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/tradewinds/internal/domain"
)

const (
	oandaPracticeURL = "https://api-fxpractice.oanda.com"
	oandaLiveURL     = "https://api-fxtrade.oanda.com"
)

// Oanda implements Broker against the OANDA v20 REST API. OANDA is
// forex-only; units are signed (negative = short) and market fills carry a
// tradeID in the fill transaction, which we surface as the order's TradeID.
type Oanda struct {
	apiKey    string
	accountID string
	baseURL   string
	http      *http.Client
	log       zerolog.Logger
}

// NewOanda builds an OANDA broker for the given account.
func NewOanda(apiKey, accountID, accountType string, log zerolog.Logger) *Oanda {
	baseURL := oandaPracticeURL
	if accountType == "live" {
		baseURL = oandaLiveURL
	}
	return &Oanda{
		apiKey:    apiKey,
		accountID: accountID,
		baseURL:   baseURL,
		http:      newBrokerHTTPClient(),
		log:       log.With().Str("broker", "oanda").Str("account_id", accountID).Logger(),
	}
}

// newBrokerHTTPClient applies the platform's broker timeouts: 5s connect,
// 20s overall.
func newBrokerHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 20 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		},
	}
}

func (o *Oanda) Name() string { return "oanda" }

func (o *Oanda) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("oanda marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("oanda build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.http.Do(req)
	if err != nil {
		return fmt.Errorf("oanda %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("oanda read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("oanda %s %s: status %d: %s", method, path, resp.StatusCode, truncate(string(data), 200))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("oanda decode response: %w", err)
		}
	}
	return nil
}

var errNotFound = fmt.Errorf("not found")

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (o *Oanda) accountPath(suffix string) string {
	return "/v3/accounts/" + o.accountID + suffix
}

func (o *Oanda) TestConnection(ctx context.Context) error {
	var resp struct {
		Account map[string]interface{} `json:"account"`
	}
	return o.do(ctx, http.MethodGet, o.accountPath("/summary"), nil, &resp)
}

func (o *Oanda) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	var resp struct {
		Account struct {
			Currency    string `json:"currency"`
			Balance     string `json:"balance"`
			MarginAvail string `json:"marginAvailable"`
			NAV         string `json:"NAV"`
		} `json:"account"`
	}
	if err := o.do(ctx, http.MethodGet, o.accountPath("/summary"), nil, &resp); err != nil {
		return nil, err
	}
	return &AccountInfo{
		Currency:       resp.Account.Currency,
		Cash:           parseFloat(resp.Account.Balance),
		BuyingPower:    parseFloat(resp.Account.MarginAvail),
		PortfolioValue: parseFloat(resp.Account.NAV),
	}, nil
}

type oandaPosition struct {
	Instrument   string `json:"instrument"`
	UnrealizedPL string `json:"unrealizedPL"`
	Long         struct {
		Units        string   `json:"units"`
		AveragePrice string   `json:"averagePrice"`
		TradeIDs     []string `json:"tradeIDs"`
		UnrealizedPL string   `json:"unrealizedPL"`
	} `json:"long"`
	Short struct {
		Units        string   `json:"units"`
		AveragePrice string   `json:"averagePrice"`
		TradeIDs     []string `json:"tradeIDs"`
		UnrealizedPL string   `json:"unrealizedPL"`
	} `json:"short"`
}

func (o *Oanda) GetPositions(ctx context.Context) ([]Position, error) {
	var resp struct {
		Positions []oandaPosition `json:"positions"`
	}
	if err := o.do(ctx, http.MethodGet, o.accountPath("/openPositions"), nil, &resp); err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(resp.Positions))
	for i := range resp.Positions {
		out = append(out, o.convertPosition(&resp.Positions[i]))
	}
	return out, nil
}

func (o *Oanda) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	positions, err := o.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	instrument := normalizeInstrument(symbol)
	for i := range positions {
		if positions[i].Symbol == instrument {
			return &positions[i], nil
		}
	}
	return nil, nil
}

func (o *Oanda) HasActiveSymbol(ctx context.Context, symbol string) (bool, error) {
	p, err := o.GetPosition(ctx, symbol)
	if err != nil {
		return false, err
	}
	return p != nil, nil
}

func (o *Oanda) convertPosition(p *oandaPosition) Position {
	longUnits := parseFloat(p.Long.Units)
	shortUnits := parseFloat(p.Short.Units)

	side := PositionLong
	units := longUnits
	avg := parseFloat(p.Long.AveragePrice)
	tradeIDs := p.Long.TradeIDs
	if shortUnits != 0 {
		side = PositionShort
		units = shortUnits
		avg = parseFloat(p.Short.AveragePrice)
		tradeIDs = p.Short.TradeIDs
	}

	unrealized := parseFloat(p.UnrealizedPL)
	costBasis := avg * abs(units)
	pct := 0.0
	if costBasis > 0 {
		pct = unrealized / costBasis * 100
	}
	pos := Position{
		Symbol:              p.Instrument,
		Qty:                 abs(units),
		Side:                side,
		AvgEntryPrice:       avg,
		CostBasis:           costBasis,
		UnrealizedPL:        unrealized,
		UnrealizedPLPercent: pct,
		BrokerData:          map[string]interface{}{},
	}
	if len(tradeIDs) > 0 {
		pos.BrokerData["trade_id"] = tradeIDs[0]
	}
	return pos
}

// oandaUnits renders signed units: OANDA encodes direction in the sign.
func oandaUnits(qty float64, side OrderSide) string {
	d := decimal.NewFromFloat(qty)
	if side == SideSell {
		d = d.Neg()
	}
	return d.String()
}

func (o *Oanda) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	order := map[string]interface{}{
		"type":         strings.ToUpper(string(req.Type)),
		"instrument":   normalizeInstrument(req.Symbol),
		"units":        oandaUnits(req.Qty, req.Side),
		"timeInForce":  oandaTIF(req.Type, req.TimeInForce),
		"positionFill": "DEFAULT",
	}
	if req.Type == OrderLimit && req.LimitPrice > 0 {
		order["price"] = decimal.NewFromFloat(req.LimitPrice).String()
	}
	return o.submit(ctx, order, req.Symbol, req.Qty, req.Side, req.Type)
}

func (o *Oanda) PlaceBracketOrder(ctx context.Context, req BracketRequest) (*Order, error) {
	order := map[string]interface{}{
		"type":         "MARKET",
		"instrument":   normalizeInstrument(req.Symbol),
		"units":        oandaUnits(req.Qty, req.Side),
		"timeInForce":  "FOK",
		"positionFill": "DEFAULT",
		"takeProfitOnFill": map[string]string{
			"price": decimal.NewFromFloat(req.TakeProfit).String(),
		},
		"stopLossOnFill": map[string]string{
			"price": decimal.NewFromFloat(req.StopLoss).String(),
		},
	}
	return o.submit(ctx, order, req.Symbol, req.Qty, req.Side, OrderMarket)
}

func (o *Oanda) PlaceLimitBracketOrder(ctx context.Context, req LimitBracketRequest) (*Order, error) {
	order := map[string]interface{}{
		"type":         "LIMIT",
		"instrument":   normalizeInstrument(req.Symbol),
		"units":        oandaUnits(req.Qty, req.Side),
		"price":        decimal.NewFromFloat(req.LimitPrice).String(),
		"timeInForce":  "GTC",
		"positionFill": "DEFAULT",
		"takeProfitOnFill": map[string]string{
			"price": decimal.NewFromFloat(req.TakeProfit).String(),
		},
		"stopLossOnFill": map[string]string{
			"price": decimal.NewFromFloat(req.StopLoss).String(),
		},
	}
	return o.submit(ctx, order, req.Symbol, req.Qty, req.Side, OrderLimit)
}

func (o *Oanda) submit(ctx context.Context, order map[string]interface{}, symbol string, qty float64, side OrderSide, typ OrderType) (*Order, error) {
	var resp struct {
		OrderCreateTransaction struct {
			ID   string `json:"id"`
			Time string `json:"time"`
		} `json:"orderCreateTransaction"`
		OrderFillTransaction struct {
			ID          string `json:"id"`
			Price       string `json:"price"`
			TradeOpened struct {
				TradeID string `json:"tradeID"`
				Units   string `json:"units"`
			} `json:"tradeOpened"`
		} `json:"orderFillTransaction"`
	}
	if err := o.do(ctx, http.MethodPost, o.accountPath("/orders"), map[string]interface{}{"order": order}, &resp); err != nil {
		return nil, fmt.Errorf("oanda place order: %w", err)
	}
	out := &Order{
		ID:          resp.OrderCreateTransaction.ID,
		Symbol:      normalizeInstrument(symbol),
		Qty:         qty,
		Side:        side,
		Type:        typ,
		Status:      "accepted",
		SubmittedAt: time.Now().UTC(),
	}
	// Market fills carry the trade id in the fill transaction.
	if resp.OrderFillTransaction.TradeOpened.TradeID != "" {
		out.TradeID = resp.OrderFillTransaction.TradeOpened.TradeID
		out.FilledPrice = parseFloat(resp.OrderFillTransaction.Price)
		out.FilledQty = abs(parseFloat(resp.OrderFillTransaction.TradeOpened.Units))
		out.Status = "filled"
	}
	return out, nil
}

func (o *Oanda) GetOrders(ctx context.Context) ([]Order, error) {
	var resp struct {
		Orders []struct {
			ID         string `json:"id"`
			Instrument string `json:"instrument"`
			Units      string `json:"units"`
			Type       string `json:"type"`
			Price      string `json:"price"`
			State      string `json:"state"`
			CreateTime string `json:"createTime"`
		} `json:"orders"`
	}
	if err := o.do(ctx, http.MethodGet, o.accountPath("/pendingOrders"), nil, &resp); err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(resp.Orders))
	for _, r := range resp.Orders {
		units := parseFloat(r.Units)
		side := SideBuy
		if units < 0 {
			side = SideSell
		}
		submitted, _ := time.Parse(time.RFC3339, r.CreateTime)
		out = append(out, Order{
			ID:          r.ID,
			Symbol:      r.Instrument,
			Qty:         abs(units),
			Side:        side,
			Type:        OrderType(strings.ToLower(r.Type)),
			Status:      strings.ToLower(r.State),
			LimitPrice:  parseFloat(r.Price),
			SubmittedAt: submitted,
		})
	}
	return out, nil
}

func (o *Oanda) CancelOrder(ctx context.Context, orderID string) error {
	if err := o.do(ctx, http.MethodPut, o.accountPath("/orders/"+orderID+"/cancel"), nil, nil); err != nil {
		return fmt.Errorf("oanda cancel order %s: %w", orderID, err)
	}
	return nil
}

func (o *Oanda) ClosePosition(ctx context.Context, symbol string, qty float64) (*CloseResult, error) {
	pos, err := o.GetPosition(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return &CloseResult{Success: false}, fmt.Errorf("no open position for %s", symbol)
	}
	body := map[string]string{}
	units := "ALL"
	if qty > 0 {
		units = strconv.FormatFloat(qty, 'f', -1, 64)
	}
	if pos.Side == PositionShort {
		body["shortUnits"] = units
	} else {
		body["longUnits"] = units
	}
	path := o.accountPath("/positions/" + normalizeInstrument(symbol) + "/close")
	if err := o.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return nil, fmt.Errorf("oanda close position %s: %w", symbol, err)
	}
	return &CloseResult{Success: true}, nil
}

func (o *Oanda) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	var resp struct {
		Prices []struct {
			Bids []struct {
				Price string `json:"price"`
			} `json:"bids"`
			Asks []struct {
				Price string `json:"price"`
			} `json:"asks"`
		} `json:"prices"`
	}
	path := o.accountPath("/pricing?instruments=" + url.QueryEscape(normalizeInstrument(symbol)))
	if err := o.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Prices) == 0 || len(resp.Prices[0].Bids) == 0 || len(resp.Prices[0].Asks) == 0 {
		return nil, fmt.Errorf("oanda returned no pricing for %s", symbol)
	}
	bid := parseFloat(resp.Prices[0].Bids[0].Price)
	ask := parseFloat(resp.Prices[0].Asks[0].Price)
	return &Quote{Bid: bid, Ask: ask, Last: (bid + ask) / 2}, nil
}

func (o *Oanda) GetRecentCandles(ctx context.Context, symbol string, tf domain.Timeframe, count int) ([]domain.Candle, error) {
	var resp struct {
		Candles []struct {
			Time     string `json:"time"`
			Complete bool   `json:"complete"`
			Volume   int64  `json:"volume"`
			Mid      struct {
				O string `json:"o"`
				H string `json:"h"`
				L string `json:"l"`
				C string `json:"c"`
			} `json:"mid"`
		} `json:"candles"`
	}
	path := fmt.Sprintf("/v3/instruments/%s/candles?granularity=%s&count=%d",
		normalizeInstrument(symbol), oandaGranularity(tf), count)
	if err := o.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Candle, 0, len(resp.Candles))
	for _, c := range resp.Candles {
		ts, err := time.Parse(time.RFC3339Nano, c.Time)
		if err != nil {
			continue
		}
		out = append(out, domain.Candle{
			Ticker:    normalizeInstrument(symbol),
			Timeframe: tf,
			Timestamp: ts,
			Open:      parseFloat(c.Mid.O),
			High:      parseFloat(c.Mid.H),
			Low:       parseFloat(c.Mid.L),
			Close:     parseFloat(c.Mid.C),
			Volume:    float64(c.Volume),
		})
	}
	return out, nil
}

// GetTradeDetails looks the trade up by its OANDA trade id; the order id is
// only used when no trade id was ever extracted.
func (o *Oanda) GetTradeDetails(ctx context.Context, tradeID, orderID string) (*TradeDetails, error) {
	id := tradeID
	if id == "" {
		id = orderID
	}
	if id == "" {
		return &TradeDetails{Found: false}, nil
	}
	var resp struct {
		Trade struct {
			ID                string `json:"id"`
			Instrument        string `json:"instrument"`
			Price             string `json:"price"`
			State             string `json:"state"`
			InitialUnits      string `json:"initialUnits"`
			RealizedPL        string `json:"realizedPL"`
			UnrealizedPL      string `json:"unrealizedPL"`
			AverageClosePrice string `json:"averageClosePrice"`
			CloseTime         string `json:"closeTime"`
		} `json:"trade"`
	}
	if err := o.do(ctx, http.MethodGet, o.accountPath("/trades/"+id), nil, &resp); err != nil {
		if err == errNotFound {
			return &TradeDetails{Found: false}, nil
		}
		return nil, fmt.Errorf("oanda get trade %s: %w", id, err)
	}
	td := &TradeDetails{
		Found:        true,
		State:        strings.ToLower(resp.Trade.State),
		RealizedPL:   parseFloat(resp.Trade.RealizedPL),
		UnrealizedPL: parseFloat(resp.Trade.UnrealizedPL),
		Instrument:   resp.Trade.Instrument,
		OpenPrice:    parseFloat(resp.Trade.Price),
		ClosePrice:   parseFloat(resp.Trade.AverageClosePrice),
		Units:        abs(parseFloat(resp.Trade.InitialUnits)),
	}
	if resp.Trade.CloseTime != "" {
		if t, err := time.Parse(time.RFC3339Nano, resp.Trade.CloseTime); err == nil {
			td.CloseTime = &t
		}
	}
	return td, nil
}

func normalizeInstrument(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", "_"))
}

func oandaGranularity(tf domain.Timeframe) string {
	switch tf {
	case domain.Timeframe1m:
		return "M1"
	case domain.Timeframe5m:
		return "M5"
	case domain.Timeframe15m:
		return "M15"
	case domain.Timeframe1h:
		return "H1"
	case domain.Timeframe4h:
		return "H4"
	case domain.TimeframeW:
		return "W"
	case domain.TimeframeM:
		return "M"
	default:
		return "D"
	}
}

func oandaTIF(typ OrderType, tif TimeInForce) string {
	if typ == OrderMarket {
		return "FOK"
	}
	switch tif {
	case TIFDay:
		return "GFD"
	case TIFIOC:
		return "IOC"
	case TIFFOK:
		return "FOK"
	default:
		return "GTC"
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
