package trademanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradewinds/internal/broker"
	"github.com/aristath/tradewinds/internal/domain"
)

func openMarket(t *testing.T) *broker.MarketHoursChecker {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	// Wednesday midsession.
	return broker.NewMarketHoursCheckerAt(func() time.Time {
		return time.Date(2026, 3, 4, 12, 0, 0, 0, loc)
	})
}

func closedMarket(t *testing.T) *broker.MarketHoursChecker {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	return broker.NewMarketHoursCheckerAt(func() time.Time {
		return time.Date(2026, 3, 7, 12, 0, 0, 0, loc) // Saturday
	})
}

func newManager(t *testing.T, b broker.Broker, hours *broker.MarketHoursChecker) *TradeManager {
	t.Helper()
	tm := New(b, hours, zerolog.Nop())
	return tm
}

func approvedState() *domain.PipelineState {
	return &domain.PipelineState{
		Symbol: "AAPL",
		Mode:   domain.ModePaper,
		Strategy: &domain.Strategy{
			Action:     domain.ActionBuy,
			EntryPrice: 100,
			StopLoss:   95,
			TakeProfit: 110,
		},
		RiskAssessment: &domain.RiskAssessment{Approved: true, PositionSize: 10},
	}
}

func TestExecuteNoBroker(t *testing.T) {
	tm := newManager(t, nil, openMarket(t))
	st := approvedState()

	require.NoError(t, tm.Process(context.Background(), st))
	assert.Equal(t, domain.TradeStatusSkipped, st.TradeExecution.Status)
	assert.NotEqual(t, domain.PhaseMonitoring, st.Phase)
}

func TestExecuteHold(t *testing.T) {
	tm := newManager(t, broker.NewFake(), openMarket(t))
	st := approvedState()
	st.Strategy.Action = domain.ActionHold

	require.NoError(t, tm.Process(context.Background(), st))
	assert.Equal(t, domain.TradeStatusNoAction, st.TradeExecution.Status)
}

func TestExecuteRiskRejected(t *testing.T) {
	tm := newManager(t, broker.NewFake(), openMarket(t))
	st := approvedState()
	st.RiskAssessment.Approved = false

	require.NoError(t, tm.Process(context.Background(), st))
	assert.Equal(t, domain.TradeStatusRejected, st.TradeExecution.Status)
}

func TestExecuteMarketClosed(t *testing.T) {
	tm := newManager(t, broker.NewFake(), closedMarket(t))
	st := approvedState()

	require.NoError(t, tm.Process(context.Background(), st))
	assert.Equal(t, domain.TradeStatusSkipped, st.TradeExecution.Status)
}

func TestExecuteAlreadyActive(t *testing.T) {
	f := broker.NewFake()
	f.SetPosition(broker.Position{Symbol: "AAPL", Qty: 5})
	tm := newManager(t, f, openMarket(t))
	st := approvedState()

	require.NoError(t, tm.Process(context.Background(), st))
	assert.Equal(t, domain.TradeStatusSkipped, st.TradeExecution.Status)
	assert.Empty(t, f.PlacedOrders())
}

func TestExecutePositionCheckFailsClosed(t *testing.T) {
	f := broker.NewFake()
	f.Err = errors.New("broker down")
	tm := newManager(t, f, openMarket(t))
	st := approvedState()

	require.NoError(t, tm.Process(context.Background(), st))
	assert.Equal(t, domain.TradeStatusError, st.TradeExecution.Status)
	assert.Empty(t, f.PlacedOrders())
}

func TestExecutePlacesLimitBracket(t *testing.T) {
	f := broker.NewFake()
	tm := newManager(t, f, openMarket(t))
	st := approvedState()

	require.NoError(t, tm.Process(context.Background(), st))
	require.Len(t, f.PlacedOrders(), 1)
	placed := f.PlacedOrders()[0]
	assert.Equal(t, broker.OrderLimit, placed.Type)
	assert.Equal(t, 100.0, placed.LimitPrice)
	assert.Equal(t, 10.0, placed.Qty)

	assert.Equal(t, domain.PhaseMonitoring, st.Phase)
	assert.Equal(t, intervalPendingMinutes, st.MonitorIntervalMinutes)
	assert.Equal(t, domain.TradeStatusPendingFill, st.TradeExecution.Status)
	assert.Equal(t, placed.ID, st.TradeExecution.OrderID)
}

func TestExecuteMarketOrderWithoutBracket(t *testing.T) {
	f := broker.NewFake()
	tm := newManager(t, f, openMarket(t))
	st := approvedState()
	st.Strategy.StopLoss = 0

	require.NoError(t, tm.Process(context.Background(), st))
	require.Len(t, f.PlacedOrders(), 1)
	assert.Equal(t, broker.OrderMarket, f.PlacedOrders()[0].Type)
}

func TestExecuteSubmissionFailureStillMonitors(t *testing.T) {
	f := broker.NewFake()
	tm := newManager(t, f, openMarket(t))
	st := approvedState()

	// Position check succeeds, then the outage hits the submission.
	tm.broker = &failOnPlace{Fake: f}

	require.NoError(t, tm.Process(context.Background(), st))
	// Phase already flipped: the response may have been lost, not the order.
	assert.Equal(t, domain.PhaseMonitoring, st.Phase)
	assert.Equal(t, domain.TradeStatusError, st.TradeExecution.Status)
}

type failOnPlace struct {
	*broker.Fake
}

func (f *failOnPlace) PlaceLimitBracketOrder(ctx context.Context, req broker.LimitBracketRequest) (*broker.Order, error) {
	return nil, errors.New("timeout")
}

func monitoringState(orderID string, submittedAgo time.Duration) *domain.PipelineState {
	sub := time.Now().UTC().Add(-submittedAgo)
	return &domain.PipelineState{
		Symbol: "AAPL",
		Phase:  domain.PhaseMonitoring,
		Strategy: &domain.Strategy{
			Action: domain.ActionBuy, EntryPrice: 100, StopLoss: 95, TakeProfit: 110,
		},
		TradeExecution: &domain.TradeExecution{
			OrderID:     orderID,
			Status:      domain.TradeStatusPendingFill,
			SubmittedAt: &sub,
		},
	}
}

func TestMonitorNoOrderCompletes(t *testing.T) {
	tm := newManager(t, broker.NewFake(), openMarket(t))
	st := &domain.PipelineState{
		Symbol:         "AAPL",
		Phase:          domain.PhaseMonitoring,
		TradeExecution: &domain.TradeExecution{},
	}

	require.NoError(t, tm.Process(context.Background(), st))
	assert.True(t, st.ShouldComplete)
	assert.Equal(t, domain.OutcomeCancelled, st.TradeOutcome.Status)
}

func TestMonitorFillGrace(t *testing.T) {
	tm := newManager(t, broker.NewFake(), openMarket(t))
	st := monitoringState("ord-1", 10*time.Second)

	require.NoError(t, tm.Process(context.Background(), st))
	assert.False(t, st.ShouldComplete)
	assert.Nil(t, st.TradeOutcome)
}

func TestMonitorPendingOrderKept(t *testing.T) {
	f := broker.NewFake()
	st := monitoringState("", 2*time.Minute)

	order, err := f.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol: "AAPL", Qty: 10, Side: broker.SideBuy, Type: broker.OrderLimit, LimitPrice: 100,
	})
	require.NoError(t, err)
	st.TradeExecution.OrderID = order.ID
	f.SetQuote("AAPL", broker.Quote{Last: 100.2})

	tm := newManager(t, f, openMarket(t))
	require.NoError(t, tm.Process(context.Background(), st))

	assert.False(t, st.ShouldComplete)
	assert.Empty(t, f.CancelledOrders())
	assert.Equal(t, 0, st.TradeExecution.APIErrorCount)
	assert.NotNil(t, st.TradeExecution.LastSuccessfulCheck)
}

func TestMonitorCancelsStalePending(t *testing.T) {
	f := broker.NewFake()
	st := monitoringState("", 2*time.Hour)

	order, err := f.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol: "AAPL", Qty: 10, Side: broker.SideBuy, Type: broker.OrderLimit, LimitPrice: 100,
	})
	require.NoError(t, err)
	st.TradeExecution.OrderID = order.ID

	tm := newManager(t, f, openMarket(t))
	require.NoError(t, tm.Process(context.Background(), st))

	assert.Equal(t, []string{order.ID}, f.CancelledOrders())
	assert.True(t, st.ShouldComplete)
	assert.Equal(t, domain.OutcomeCancelled, st.TradeOutcome.Status)
	assert.Equal(t, domain.TradeStatusCancelled, st.TradeExecution.Status)
	require.NotNil(t, st.TradeOutcome.PnL)
	assert.Zero(t, *st.TradeOutcome.PnL)
}

// A pending buy limit whose price hovers near the entry but inside the
// stop/target bracket stays alive. Only a bracket breach kills it.
func TestMonitorPendingInsideBracketKept(t *testing.T) {
	f := broker.NewFake()
	st := monitoringState("", 5*time.Minute)
	st.Strategy = &domain.Strategy{
		Action: domain.ActionBuy, EntryPrice: 250, StopLoss: 248, TakeProfit: 256,
	}

	order, err := f.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol: "AAPL", Qty: 10, Side: broker.SideBuy, Type: broker.OrderLimit, LimitPrice: 250,
	})
	require.NoError(t, err)
	st.TradeExecution.OrderID = order.ID
	f.SetQuote("AAPL", broker.Quote{Last: 249.80})
	f.SetCandles("AAPL", []domain.Candle{
		{Low: 249.00, High: 250.40},
	})

	tm := newManager(t, f, openMarket(t))
	require.NoError(t, tm.Process(context.Background(), st))

	assert.False(t, st.ShouldComplete)
	assert.Empty(t, f.CancelledOrders())
	assert.Nil(t, st.TradeOutcome)
}

func TestMonitorCancelsWhenStopBreached(t *testing.T) {
	f := broker.NewFake()
	st := monitoringState("", 5*time.Minute)

	order, err := f.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol: "AAPL", Qty: 10, Side: broker.SideBuy, Type: broker.OrderLimit, LimitPrice: 100,
	})
	require.NoError(t, err)
	st.TradeExecution.OrderID = order.ID
	// Below the 95 stop: the setup the entry was planned around is gone.
	f.SetQuote("AAPL", broker.Quote{Last: 94.5})

	tm := newManager(t, f, openMarket(t))
	require.NoError(t, tm.Process(context.Background(), st))

	assert.True(t, st.ShouldComplete)
	assert.Equal(t, domain.OutcomeCancelled, st.TradeOutcome.Status)
	assert.Equal(t, "setup invalidated", st.TradeOutcome.ExitReason)
	require.NotNil(t, st.TradeOutcome.PnL)
	assert.Zero(t, *st.TradeOutcome.PnL)
}

func TestMonitorCancelsWhenTargetPassed(t *testing.T) {
	f := broker.NewFake()
	st := monitoringState("", 5*time.Minute)

	order, err := f.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol: "AAPL", Qty: 10, Side: broker.SideBuy, Type: broker.OrderLimit, LimitPrice: 100,
	})
	require.NoError(t, err)
	st.TradeExecution.OrderID = order.ID
	// Past the 110 target without filling us.
	f.SetQuote("AAPL", broker.Quote{Last: 111})

	tm := newManager(t, f, openMarket(t))
	require.NoError(t, tm.Process(context.Background(), st))

	assert.True(t, st.ShouldComplete)
	assert.Equal(t, "missed opportunity", st.TradeOutcome.ExitReason)
}

func TestMonitorCancelsOnCandleThroughStop(t *testing.T) {
	f := broker.NewFake()
	st := monitoringState("", 5*time.Minute)

	order, err := f.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol: "AAPL", Qty: 10, Side: broker.SideBuy, Type: broker.OrderLimit, LimitPrice: 100,
	})
	require.NoError(t, err)
	st.TradeExecution.OrderID = order.ID
	// Spot recovered, but a candle spiked through the 95 stop between checks.
	f.SetQuote("AAPL", broker.Quote{Last: 100.1})
	f.SetCandles("AAPL", []domain.Candle{
		{Low: 94.8, High: 100.8},
	})

	tm := newManager(t, f, openMarket(t))
	require.NoError(t, tm.Process(context.Background(), st))

	assert.True(t, st.ShouldComplete)
	assert.Equal(t, "setup invalidated", st.TradeOutcome.ExitReason)
}

func TestMonitorEmergencyExitOnStopBreach(t *testing.T) {
	f := broker.NewFake()
	st := monitoringState("ord-gone", 5*time.Minute)
	// Position trading below the 95 stop with no broker-side exit: the
	// manager must close it directly and book the unrealized P&L.
	f.SetPosition(broker.Position{
		Symbol: "AAPL", Qty: 10, Side: broker.PositionLong,
		AvgEntryPrice: 99.8, CurrentPrice: 94.2, UnrealizedPL: -56,
	})

	tm := newManager(t, f, openMarket(t))
	require.NoError(t, tm.Process(context.Background(), st))

	assert.Equal(t, []string{"AAPL"}, f.ClosedSymbols())
	assert.True(t, st.ShouldComplete)
	assert.Equal(t, domain.OutcomeExecuted, st.TradeOutcome.Status)
	require.NotNil(t, st.TradeOutcome.PnL)
	assert.Equal(t, -56.0, *st.TradeOutcome.PnL)
	assert.Equal(t, 94.2, st.TradeOutcome.ExitPrice)
}

func TestMonitorFillTransitionsToHolding(t *testing.T) {
	f := broker.NewFake()
	st := monitoringState("ord-gone", 5*time.Minute)
	f.SetPosition(broker.Position{Symbol: "AAPL", Qty: 10, AvgEntryPrice: 99.8})

	tm := newManager(t, f, openMarket(t))
	require.NoError(t, tm.Process(context.Background(), st))

	assert.False(t, st.ShouldComplete)
	assert.Equal(t, domain.TradeStatusFilled, st.TradeExecution.Status)
	assert.Equal(t, 99.8, st.TradeExecution.FilledPrice)
	assert.Equal(t, intervalHoldingMinutes, st.MonitorIntervalMinutes)
}

func TestMonitorClosedWithBrokerPnL(t *testing.T) {
	f := broker.NewFake()
	st := monitoringState("ord-1", 10*time.Minute)
	st.TradeExecution.Status = domain.TradeStatusFilled
	st.TradeExecution.FilledPrice = 100

	closed := time.Now().UTC()
	f.SetTradeDetails("ord-1", broker.TradeDetails{
		Found: true, State: "closed",
		RealizedPL: 85.0, OpenPrice: 100, ClosePrice: 108.5, Units: 10,
		CloseTime: &closed,
	})

	tm := newManager(t, f, openMarket(t))
	require.NoError(t, tm.Process(context.Background(), st))

	require.True(t, st.ShouldComplete)
	require.NotNil(t, st.TradeOutcome.PnL)
	assert.Equal(t, domain.OutcomeExecuted, st.TradeOutcome.Status)
	assert.Equal(t, 85.0, *st.TradeOutcome.PnL)
	require.NotNil(t, st.TradeOutcome.PnLPercent)
	assert.InDelta(t, 8.5, *st.TradeOutcome.PnLPercent, 0.001)
}

func TestMonitorCloseUnconfirmed(t *testing.T) {
	f := broker.NewFake()
	st := monitoringState("ord-1", 10*time.Minute)
	st.TradeExecution.Status = domain.TradeStatusFilled

	// Position gone, no trade details found.
	tm := newManager(t, f, openMarket(t))
	require.NoError(t, tm.Process(context.Background(), st))

	assert.True(t, st.ShouldComplete)
	assert.Equal(t, domain.OutcomeNeedsReconciliation, st.TradeOutcome.Status)
	assert.Nil(t, st.TradeOutcome.PnL)
}

func TestMonitorNeverFilledConcludesCancelled(t *testing.T) {
	f := broker.NewFake()
	st := monitoringState("ord-vanished", 10*time.Minute)

	tm := newManager(t, f, openMarket(t))
	require.NoError(t, tm.Process(context.Background(), st))

	assert.True(t, st.ShouldComplete)
	assert.Equal(t, domain.OutcomeCancelled, st.TradeOutcome.Status)
	assert.Equal(t, domain.TradeStatusCancelled, st.TradeExecution.Status)
}

func TestMonitorAPIErrorThresholds(t *testing.T) {
	f := broker.NewFake()
	f.Err = errors.New("timeout")
	tm := newManager(t, f, openMarket(t))

	st := monitoringState("ord-1", 10*time.Minute)
	st.TradeExecution.APIErrorCount = commErrorThreshold - 1

	require.NoError(t, tm.Process(context.Background(), st))
	assert.True(t, st.CommunicationError)
	assert.False(t, st.ShouldComplete)
	assert.Equal(t, commErrorThreshold, st.TradeExecution.APIErrorCount)

	st.TradeExecution.APIErrorCount = reconciliationThreshold - 1
	require.NoError(t, tm.Process(context.Background(), st))
	assert.True(t, st.ShouldComplete)
	assert.Equal(t, domain.OutcomeNeedsReconciliation, st.TradeOutcome.Status)
}
