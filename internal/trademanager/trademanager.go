// Package trademanager is the final agent in the pipeline sequence. The
// execute phase turns an approved strategy into a broker order; the monitor
// phase follows the order and position until the trade concludes. Realized
// P&L only ever comes from the broker.
package trademanager

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradewinds/internal/agents"
	"github.com/aristath/tradewinds/internal/broker"
	"github.com/aristath/tradewinds/internal/domain"
)

const (
	// fillGrace leaves the broker time to register a fresh order before
	// the first monitor pass starts drawing conclusions from its absence.
	fillGrace = 60 * time.Second

	// maxPendingHours bounds how long a limit entry may sit unfilled.
	maxPendingHours = 1.0

	// wickLookback is how many recent 1m candles are checked for a move
	// through the bracket levels between monitor passes.
	wickLookback = 5

	// Monitor cadence: tight while an entry order is in flight, relaxed
	// once the position is established.
	intervalPendingMinutes = 0.25
	intervalHoldingMinutes = 5.0

	// API failure thresholds for the monitor phase.
	commErrorThreshold      = 5
	reconciliationThreshold = 60
)

// TradeManager drives one execution's trade through the broker.
type TradeManager struct {
	broker broker.Broker
	hours  *broker.MarketHoursChecker
	log    zerolog.Logger
	now    func() time.Time
}

// New creates a trade manager bound to the execution's broker.
func New(b broker.Broker, hours *broker.MarketHoursChecker, log zerolog.Logger) *TradeManager {
	return &TradeManager{
		broker: b,
		hours:  hours,
		log:    log.With().Str("agent", agents.TypeTradeManager).Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (t *TradeManager) Type() string { return agents.TypeTradeManager }

// Process dispatches to the phase the state is in.
func (t *TradeManager) Process(ctx context.Context, st *domain.PipelineState) error {
	if st.Phase == domain.PhaseMonitoring {
		return t.monitor(ctx, st)
	}
	return t.execute(ctx, st)
}

// execute walks the precondition ladder and places the order. The phase
// flip to monitoring is committed to the state BEFORE the broker call: if
// the process dies mid-call, the monitor phase will find whatever the
// broker actually did rather than double-submitting.
func (t *TradeManager) execute(ctx context.Context, st *domain.PipelineState) error {
	if t.broker == nil {
		st.TradeExecution = skipped("no broker configured for this pipeline")
		st.Log("trade manager: skipped, no broker")
		return nil
	}
	if st.RiskAssessment == nil {
		st.TradeExecution = skipped("no risk assessment present")
		st.Log("trade manager: skipped, no risk assessment")
		return nil
	}
	if st.Strategy == nil || st.Strategy.Action == domain.ActionHold {
		st.TradeExecution = &domain.TradeExecution{
			Status: domain.TradeStatusNoAction,
			Reason: "strategy holds",
		}
		st.Log("trade manager: no action, strategy is HOLD")
		return nil
	}
	if !st.RiskAssessment.Approved {
		st.TradeExecution = &domain.TradeExecution{
			Status: domain.TradeStatusRejected,
			Reason: "risk manager did not approve",
		}
		st.Log("trade manager: rejected by risk manager")
		return nil
	}
	if !t.hours.IsOpen(st.Symbol) {
		st.TradeExecution = skipped("market closed for " + st.Symbol)
		st.Log("trade manager: skipped, market closed")
		return nil
	}

	// Fail closed: if the broker cannot tell us whether we already hold
	// the symbol, we do not trade it.
	active, err := t.broker.HasActiveSymbol(ctx, st.Symbol)
	if err != nil {
		st.TradeExecution = &domain.TradeExecution{
			Status: domain.TradeStatusError,
			Reason: fmt.Sprintf("position check failed: %v", err),
		}
		st.Log("trade manager: skipped, position check failed")
		return nil
	}
	if active {
		st.TradeExecution = skipped("symbol already has an active position")
		st.Log("trade manager: skipped, symbol already active")
		return nil
	}

	// Commit intent before the broker call.
	st.Phase = domain.PhaseMonitoring
	st.MonitorIntervalMinutes = intervalPendingMinutes

	order, err := t.placeOrder(ctx, st)
	now := t.now()
	if err != nil {
		st.TradeExecution = &domain.TradeExecution{
			Status:      domain.TradeStatusError,
			Reason:      fmt.Sprintf("order submission failed: %v", err),
			SubmittedAt: &now,
		}
		st.Log(fmt.Sprintf("trade manager: order submission failed: %v", err))
		// Monitoring still runs: the broker may have accepted the order
		// even though the response was lost.
		return nil
	}

	st.TradeExecution = &domain.TradeExecution{
		OrderID:        order.ID,
		TradeID:        order.TradeID,
		Status:         domain.TradeStatusPendingFill,
		FilledPrice:    order.FilledPrice,
		FilledQuantity: order.FilledQty,
		SubmittedAt:    &now,
		OrderType:      string(order.Type),
	}
	if order.FilledQty > 0 {
		st.TradeExecution.Status = domain.TradeStatusFilled
	}
	st.Log(fmt.Sprintf("trade manager: %s order %s submitted for %.0f %s",
		order.Type, order.ID, order.Qty, st.Symbol))
	st.Report(agents.TypeTradeManager, "order", "submitted", map[string]interface{}{
		"order_id": order.ID,
		"type":     string(order.Type),
		"qty":      order.Qty,
	})
	return nil
}

func (t *TradeManager) placeOrder(ctx context.Context, st *domain.PipelineState) (*broker.Order, error) {
	side, err := broker.SideForAction(string(st.Strategy.Action))
	if err != nil {
		return nil, err
	}
	qty := st.RiskAssessment.PositionSize

	if st.Strategy.HasBracket() {
		return t.broker.PlaceLimitBracketOrder(ctx, broker.LimitBracketRequest{
			Symbol:      st.Symbol,
			Qty:         qty,
			Side:        side,
			LimitPrice:  st.Strategy.EntryPrice,
			TakeProfit:  st.Strategy.TakeProfit,
			StopLoss:    st.Strategy.StopLoss,
			TimeInForce: broker.TIFGTC,
		})
	}
	return t.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:      st.Symbol,
		Qty:         qty,
		Side:        side,
		Type:        broker.OrderMarket,
		TimeInForce: broker.TIFDay,
	})
}

// monitor runs one check of the live trade. Exactly one of three outcomes
// per pass: keep waiting, conclude the trade, or record an API failure.
func (t *TradeManager) monitor(ctx context.Context, st *domain.PipelineState) error {
	st.ResetMonitorFlags()

	te := st.TradeExecution
	if te == nil || (te.OrderID == "" && te.TradeID == "") {
		st.TradeOutcome = &domain.TradeOutcome{
			Status:     domain.OutcomeCancelled,
			ExitReason: "no order to monitor",
		}
		st.ShouldComplete = true
		st.Log("monitor: nothing to monitor, completing")
		return nil
	}

	// Give a fresh submission time to propagate.
	if te.SubmittedAt != nil && t.now().Sub(*te.SubmittedAt) < fillGrace {
		st.Log("monitor: inside fill grace period")
		return nil
	}

	pending, err := t.findPendingOrder(ctx, te.OrderID)
	if err != nil {
		t.handleAPIError(st, err)
		return nil
	}
	if pending != nil {
		t.checkPendingOrder(ctx, st, pending)
		return nil
	}

	// Order is gone from the open set: it filled or was cancelled.
	position, err := t.broker.GetPosition(ctx, st.Symbol)
	if err != nil {
		t.handleAPIError(st, err)
		return nil
	}
	t.recordCheckSuccess(st)

	if position != nil {
		t.handleFilled(ctx, st, position)
		return nil
	}
	t.handleClosed(ctx, st)
	return nil
}

func (t *TradeManager) findPendingOrder(ctx context.Context, orderID string) (*broker.Order, error) {
	if orderID == "" {
		return nil, nil
	}
	orders, err := t.broker.GetOrders(ctx)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if orders[i].ID == orderID {
			return &orders[i], nil
		}
	}
	return nil, nil
}

// checkPendingOrder decides whether an unfilled limit entry is still worth
// keeping. Three cancellation triggers: age, a spot price outside the
// planned bracket, and a candle that traded through a bracket level
// between checks.
func (t *TradeManager) checkPendingOrder(ctx context.Context, st *domain.PipelineState, order *broker.Order) {
	t.recordCheckSuccess(st)
	te := st.TradeExecution

	if te.SubmittedAt != nil {
		age := t.now().Sub(*te.SubmittedAt)
		if age.Hours() >= maxPendingHours {
			t.cancelPending(ctx, st, order, "stale order timeout")
			return
		}
	}

	if st.Strategy.HasBracket() {
		if reason := t.bracketBreachedSpot(ctx, st, order); reason != "" {
			t.cancelPending(ctx, st, order, reason)
			return
		}
		if reason := t.bracketBreachedCandles(ctx, st, order); reason != "" {
			t.cancelPending(ctx, st, order, reason)
			return
		}
	}
	st.Log("monitor: entry order still pending")
}

// bracketBreachedSpot checks the current price against the strategy's stop
// and target. A stop breach means the setup is gone; a target breach means
// the move happened without us. Either way the unfilled entry is dead.
func (t *TradeManager) bracketBreachedSpot(ctx context.Context, st *domain.PipelineState, order *broker.Order) string {
	quote, err := t.broker.GetQuote(ctx, st.Symbol)
	if err != nil || quote == nil {
		return ""
	}
	price := quote.Last
	if quote.Bid > 0 && quote.Ask > 0 {
		price = (quote.Bid + quote.Ask) / 2
	}
	if price <= 0 {
		return ""
	}
	sl, tp := st.Strategy.StopLoss, st.Strategy.TakeProfit
	if order.Side == broker.SideBuy {
		switch {
		case price <= sl:
			return "setup invalidated"
		case price >= tp:
			return "missed opportunity"
		}
		return ""
	}
	switch {
	case price >= sl:
		return "setup invalidated"
	case price <= tp:
		return "missed opportunity"
	}
	return ""
}

// bracketBreachedCandles catches spikes between monitor passes: any recent
// 1m candle whose range crossed the stop or the target.
func (t *TradeManager) bracketBreachedCandles(ctx context.Context, st *domain.PipelineState, order *broker.Order) string {
	candles, err := t.broker.GetRecentCandles(ctx, st.Symbol, domain.Timeframe1m, wickLookback)
	if err != nil {
		return ""
	}
	sl, tp := st.Strategy.StopLoss, st.Strategy.TakeProfit
	for _, c := range candles {
		if order.Side == broker.SideBuy {
			if c.Low <= sl {
				return "setup invalidated"
			}
			if c.High >= tp {
				return "missed opportunity"
			}
			continue
		}
		if c.High >= sl {
			return "setup invalidated"
		}
		if c.Low <= tp {
			return "missed opportunity"
		}
	}
	return ""
}

func (t *TradeManager) cancelPending(ctx context.Context, st *domain.PipelineState, order *broker.Order, reason string) {
	if err := t.broker.CancelOrder(ctx, order.ID); err != nil {
		t.handleAPIError(st, fmt.Errorf("cancel order %s: %w", order.ID, err))
		return
	}
	zero := 0.0
	st.TradeExecution.Status = domain.TradeStatusCancelled
	st.TradeOutcome = &domain.TradeOutcome{
		Status:     domain.OutcomeCancelled,
		PnL:        &zero,
		ExitReason: reason,
	}
	st.ShouldComplete = true
	st.Log("monitor: pending order cancelled: " + reason)
}

// handleFilled records the fill and keeps monitoring the open position at
// the relaxed cadence. One emergency exit: when the market has traded
// through the protective stop and the position is still open, the
// broker-side stop has failed and the position is closed directly.
func (t *TradeManager) handleFilled(ctx context.Context, st *domain.PipelineState, position *broker.Position) {
	te := st.TradeExecution
	if !te.Status.Filled() {
		te.Status = domain.TradeStatusFilled
		te.FilledPrice = position.AvgEntryPrice
		te.FilledQuantity = position.Qty
		st.Log(fmt.Sprintf("monitor: entry filled at %.2f for %.0f units",
			position.AvgEntryPrice, position.Qty))
	}
	// Brokers that key trades per position surface the id here.
	if te.TradeID == "" && position.BrokerData != nil {
		if id, ok := position.BrokerData["trade_id"].(string); ok {
			te.TradeID = id
		}
	}

	if t.stopBreached(st, position) {
		t.emergencyExit(ctx, st, position)
		return
	}
	st.MonitorIntervalMinutes = intervalHoldingMinutes
}

// stopBreached reports whether the market has moved through the protective
// stop while the position remains open.
func (t *TradeManager) stopBreached(st *domain.PipelineState, position *broker.Position) bool {
	if !st.Strategy.HasBracket() || position.CurrentPrice <= 0 {
		return false
	}
	if position.Side == broker.PositionShort {
		return position.CurrentPrice >= st.Strategy.StopLoss
	}
	return position.CurrentPrice <= st.Strategy.StopLoss
}

func (t *TradeManager) emergencyExit(ctx context.Context, st *domain.PipelineState, position *broker.Position) {
	if _, err := t.broker.ClosePosition(ctx, st.Symbol, 0); err != nil {
		t.handleAPIError(st, fmt.Errorf("emergency close %s: %w", st.Symbol, err))
		return
	}
	pnl := position.UnrealizedPL
	st.TradeOutcome = &domain.TradeOutcome{
		Status:     domain.OutcomeExecuted,
		PnL:        &pnl,
		ExitReason: "stop level breached without broker-side exit",
		ExitPrice:  position.CurrentPrice,
		EntryPrice: position.AvgEntryPrice,
	}
	st.ShouldComplete = true
	st.Log(fmt.Sprintf("monitor: emergency exit at %.2f, unrealized P&L %.2f",
		position.CurrentPrice, pnl))
}

// handleClosed concludes the trade. P&L comes from GetTradeDetails or not
// at all: an unconfirmable close goes to reconciliation with a nil PnL.
func (t *TradeManager) handleClosed(ctx context.Context, st *domain.PipelineState) {
	te := st.TradeExecution

	if !te.Status.Filled() {
		// Never filled and no longer pending: cancelled broker-side.
		zero := 0.0
		te.Status = domain.TradeStatusCancelled
		st.TradeOutcome = &domain.TradeOutcome{
			Status:     domain.OutcomeCancelled,
			PnL:        &zero,
			ExitReason: "entry order cancelled at broker",
		}
		st.ShouldComplete = true
		st.Log("monitor: entry cancelled broker-side, completing")
		return
	}

	details, err := t.broker.GetTradeDetails(ctx, te.TradeID, te.OrderID)
	if err != nil {
		t.handleAPIError(st, err)
		return
	}
	if !details.Found || details.State != "closed" {
		st.TradeOutcome = &domain.TradeOutcome{
			Status:     domain.OutcomeNeedsReconciliation,
			ExitReason: "position gone but broker cannot confirm the close",
			EntryPrice: te.FilledPrice,
		}
		st.ShouldComplete = true
		st.Log("monitor: close unconfirmed, needs reconciliation")
		return
	}

	pnl := details.RealizedPL
	outcome := &domain.TradeOutcome{
		Status:     domain.OutcomeExecuted,
		PnL:        &pnl,
		ExitReason: "position closed at broker",
		ExitPrice:  details.ClosePrice,
		EntryPrice: details.OpenPrice,
		ClosedAt:   details.CloseTime,
	}
	if details.OpenPrice > 0 && details.Units != 0 {
		pct := pnl / (details.OpenPrice * abs(details.Units)) * 100
		outcome.PnLPercent = &pct
	}
	st.TradeOutcome = outcome
	st.ShouldComplete = true
	st.Log(fmt.Sprintf("monitor: trade closed, realized P&L %.2f", pnl))
}

// handleAPIError counts consecutive broker failures. Five in a row flags a
// communication error; sixty abandons the trade to reconciliation.
func (t *TradeManager) handleAPIError(st *domain.PipelineState, err error) {
	te := st.TradeExecution
	te.APIErrorCount++
	te.LastAPIError = err.Error()
	t.log.Warn().Err(err).
		Int("api_error_count", te.APIErrorCount).
		Msg("broker check failed")
	st.Log(fmt.Sprintf("monitor: broker check failed (%d): %v", te.APIErrorCount, err))

	if te.APIErrorCount >= reconciliationThreshold {
		st.TradeOutcome = &domain.TradeOutcome{
			Status:     domain.OutcomeNeedsReconciliation,
			ExitReason: fmt.Sprintf("%d consecutive broker failures", te.APIErrorCount),
		}
		st.ShouldComplete = true
		return
	}
	if te.APIErrorCount >= commErrorThreshold {
		st.CommunicationError = true
	}
}

func (t *TradeManager) recordCheckSuccess(st *domain.PipelineState) {
	te := st.TradeExecution
	te.APIErrorCount = 0
	te.LastAPIError = ""
	now := t.now()
	te.LastSuccessfulCheck = &now
}

func skipped(reason string) *domain.TradeExecution {
	return &domain.TradeExecution{
		Status: domain.TradeStatusSkipped,
		Reason: reason,
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
