// Package executor runs pipeline executions end to end: preflight guards,
// the fixed agent sequence, the approval gate, and the handoff into the
// monitoring phase. Every persisted write is a compare-and-set on the
// execution's version.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/tradewinds/internal/agents"
	"github.com/aristath/tradewinds/internal/broker"
	"github.com/aristath/tradewinds/internal/dataplane"
	"github.com/aristath/tradewinds/internal/events"
	"github.com/aristath/tradewinds/internal/notify"
	"github.com/aristath/tradewinds/internal/pipeline"
	"github.com/aristath/tradewinds/internal/queue"
	"github.com/aristath/tradewinds/internal/trademanager"

	"github.com/aristath/tradewinds/internal/domain"
)

const defaultMonitorIntervalMinutes = 5.0

// PipelineStore is the pipeline lookup the executor needs. Implemented by
// *pipeline.Repository.
type PipelineStore interface {
	GetByID(ctx context.Context, id string) (*domain.Pipeline, error)
}

// ExecutionStore is the execution persistence surface the executor needs.
// Implemented by *pipeline.ExecutionRepository.
type ExecutionStore interface {
	Create(ctx context.Context, e *domain.Execution) error
	UpdateCAS(ctx context.Context, e *domain.Execution) error
	GetByID(ctx context.Context, id string) (*domain.Execution, error)
	CountActive(ctx context.Context, pipelineID, symbol string) (int, error)
	HasActiveTrade(ctx context.Context, userID, symbol string) (bool, error)
}

// UserStore covers budget reads and cost charges. Implemented by
// *pipeline.UserRepository.
type UserStore interface {
	GetBudget(ctx context.Context, userID string) (*domain.UserBudget, error)
	AddSpend(ctx context.Context, userID string, amount float64) error
}

// Executor owns the pipeline execution lifecycle from job pickup through
// either COMPLETED or the handoff to MONITORING.
type Executor struct {
	pipes   PipelineStore
	execs   ExecutionStore
	users   UserStore
	data    *dataplane.Service
	brokers *broker.Factory
	hours   *broker.MarketHoursChecker
	events  *events.Manager
	notify  *notify.Telegram
	log     zerolog.Logger
}

// New creates the executor.
func New(
	pipes PipelineStore,
	execs ExecutionStore,
	users UserStore,
	data *dataplane.Service,
	brokers *broker.Factory,
	hours *broker.MarketHoursChecker,
	ev *events.Manager,
	tg *notify.Telegram,
	log zerolog.Logger,
) *Executor {
	return &Executor{
		pipes:   pipes,
		execs:   execs,
		users:   users,
		data:    data,
		brokers: brokers,
		hours:   hours,
		events:  ev,
		notify:  tg,
		log:     log.With().Str("component", "executor").Logger(),
	}
}

// HandleJob is the queue handler for pipeline execution jobs. Guard
// rejections consume the job without error: a skipped duplicate is the
// intended outcome, not a failure to retry.
func (e *Executor) HandleJob(ctx context.Context, job *queue.Job) error {
	pipelineID, _ := job.Payload["pipeline_id"].(string)
	userID, _ := job.Payload["user_id"].(string)
	ticker, _ := job.Payload["ticker"].(string)
	modeStr, _ := job.Payload["mode"].(string)
	if pipelineID == "" || ticker == "" {
		return fmt.Errorf("execution job %s missing pipeline_id or ticker", job.ID)
	}

	mode := domain.ExecutionMode(modeStr)
	if mode == "" {
		mode = domain.ModePaper
	}
	sigCtx := signalFromPayload(job.Payload["signal"])

	p, err := e.pipes.GetByID(ctx, pipelineID)
	if err == pipeline.ErrNotFound {
		e.log.Warn().Str("pipeline_id", pipelineID).Msg("Pipeline gone, dropping job")
		return nil
	}
	if err != nil {
		return err
	}
	if !p.IsActive {
		e.log.Debug().Str("pipeline_id", pipelineID).Msg("Pipeline inactive, dropping job")
		return nil
	}
	if userID == "" {
		userID = p.UserID
	}

	if skip, reason, err := e.preflight(ctx, p, userID, ticker); err != nil {
		return err
	} else if skip {
		e.log.Info().
			Str("pipeline_id", pipelineID).
			Str("ticker", ticker).
			Str("reason", reason).
			Msg("Execution skipped by preflight guard")
		return nil
	}

	brk := e.resolveBroker(p)
	if brk != nil {
		// Broker-level duplicate guard fails open at preflight: a broker
		// hiccup here must not drop the signal. The trade manager runs
		// the same check again and fails closed there.
		active, err := brk.HasActiveSymbol(ctx, ticker)
		if err != nil {
			e.log.Warn().Err(err).Str("ticker", ticker).
				Msg("Preflight position check failed, proceeding")
		} else if active {
			e.log.Info().Str("ticker", ticker).
				Msg("Symbol already active at broker, dropping job")
			return nil
		}
	}

	exec := &domain.Execution{
		ID:                     uuid.NewString(),
		PipelineID:             p.ID,
		UserID:                 userID,
		Symbol:                 ticker,
		Mode:                   mode,
		Status:                 domain.StatusPending,
		Phase:                  domain.PhasePending,
		Signal:                 sigCtx,
		AgentStates:            initialAgentStates(p),
		MonitorIntervalMinutes: defaultMonitorIntervalMinutes,
	}

	budget, err := e.users.GetBudget(ctx, userID)
	if err != nil {
		return err
	}
	if budget.Exceeded() {
		exec.Status = domain.StatusFailed
		exec.Phase = domain.PhaseCompleted
		exec.ErrorMessage = "BudgetExceededException: user budget exhausted"
		now := time.Now().UTC()
		exec.CompletedAt = &now
		if err := e.execs.Create(ctx, exec); err != nil {
			return err
		}
		e.events.EmitTyped("executor", &events.ExecutionStatusChangedData{
			ExecutionID: exec.ID,
			PipelineID:  p.ID,
			Symbol:      ticker,
			OldStatus:   string(domain.StatusPending),
			NewStatus:   string(domain.StatusFailed),
		})
		return nil
	}

	if err := e.execs.Create(ctx, exec); err != nil {
		return err
	}
	e.events.EmitTyped("executor", &events.ExecutionStartedData{
		ExecutionID: exec.ID,
		PipelineID:  p.ID,
		UserID:      userID,
		Symbol:      ticker,
		Mode:        string(mode),
		SignalID:    signalID(sigCtx),
	})

	return e.run(ctx, exec, p, brk, newState(exec))
}

// preflight applies the duplicate-execution guards. These fail closed on
// database errors: if we cannot prove the run is unique, we do not run it.
func (e *Executor) preflight(ctx context.Context, p *domain.Pipeline, userID, ticker string) (bool, string, error) {
	active, err := e.execs.CountActive(ctx, p.ID, ticker)
	if err != nil {
		return false, "", err
	}
	if active > 0 {
		return true, "pipeline already has an active execution for symbol", nil
	}

	trading, err := e.execs.HasActiveTrade(ctx, userID, ticker)
	if err != nil {
		return false, "", err
	}
	if trading {
		return true, "user already has an active trade for symbol", nil
	}
	return false, "", nil
}

func (e *Executor) resolveBroker(p *domain.Pipeline) broker.Broker {
	if p.BrokerType == "" {
		return nil
	}
	brk, err := e.brokers.ResolveCached(broker.Key{
		BrokerType:  p.BrokerType,
		AccountID:   p.AccountID,
		AccountType: p.AccountType,
	})
	if err != nil {
		e.log.Warn().Err(err).
			Str("broker_type", p.BrokerType).
			Str("pipeline_id", p.ID).
			Msg("Broker unavailable, running analysis only")
		return nil
	}
	return brk
}

// run walks the agent sequence, committing state after every stage so a
// dead worker leaves a resumable row behind.
func (e *Executor) run(ctx context.Context, exec *domain.Execution, p *domain.Pipeline, brk broker.Broker, st *domain.PipelineState) error {
	now := time.Now().UTC()
	exec.StartedAt = &now
	if err := e.transition(ctx, exec, st, domain.StatusRunning, domain.PhaseRunning); err != nil {
		return err
	}
	st.Phase = domain.PhaseRunning

	for _, agentType := range agents.Sequence {
		node, ok := p.AgentNode(agentType)
		if !ok {
			continue
		}

		if agentType == agents.TypeTradeManager && p.RequireApproval && actionable(st) {
			return e.parkForApproval(ctx, exec, p, st)
		}

		if err := e.runAgent(ctx, exec, st, node, e.buildAgent(agentType, brk)); err != nil {
			return e.failRun(ctx, exec, p, st, err)
		}
	}

	return e.finish(ctx, exec, p, st)
}

// Approve resumes an execution parked at the approval gate.
func (e *Executor) Approve(ctx context.Context, executionID string) error {
	exec, err := e.execs.GetByID(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status != domain.StatusAwaitingApproval {
		return fmt.Errorf("execution %s is %s, not awaiting approval", executionID, exec.Status)
	}
	p, err := e.pipes.GetByID(ctx, exec.PipelineID)
	if err != nil {
		return err
	}
	st, err := domain.DecodeSnapshot(exec.Snapshot)
	if err != nil {
		return fmt.Errorf("cannot resume execution %s: %w", executionID, err)
	}

	if err := e.transition(ctx, exec, st, domain.StatusRunning, domain.PhaseRunning); err != nil {
		return err
	}

	node, ok := p.AgentNode(agents.TypeTradeManager)
	if ok {
		brk := e.resolveBroker(p)
		if err := e.runAgent(ctx, exec, st, node, e.buildAgent(agents.TypeTradeManager, brk)); err != nil {
			return e.failRun(ctx, exec, p, st, err)
		}
	}
	return e.finish(ctx, exec, p, st)
}

// Reject cancels an execution parked at the approval gate.
func (e *Executor) Reject(ctx context.Context, executionID string) error {
	exec, err := e.execs.GetByID(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status != domain.StatusAwaitingApproval {
		return fmt.Errorf("execution %s is %s, not awaiting approval", executionID, exec.Status)
	}
	now := time.Now().UTC()
	exec.CompletedAt = &now
	return e.transition(ctx, exec, nil, domain.StatusCancelled, domain.PhaseCompleted)
}

func (e *Executor) buildAgent(agentType string, brk broker.Broker) agents.Agent {
	switch agentType {
	case agents.TypeMarketData:
		return agents.NewMarketDataAgent(e.data, e.log)
	case agents.TypeBias:
		return agents.NewBiasAgent(e.log)
	case agents.TypeStrategy:
		return agents.NewStrategyAgent(e.log)
	case agents.TypeRiskManager:
		return agents.NewRiskManagerAgent(brk, e.log)
	case agents.TypeTradeManager:
		return trademanager.New(brk, e.hours, e.log)
	}
	return nil
}

// runAgent executes one stage, committing the running and finished agent
// states around the call.
func (e *Executor) runAgent(ctx context.Context, exec *domain.Execution, st *domain.PipelineState, node domain.AgentNode, agent agents.Agent) error {
	if agent == nil {
		return fmt.Errorf("no agent registered for type %s", node.AgentType)
	}

	e.markAgent(exec, node, domain.AgentRunning, "")
	e.syncState(exec, st)
	if err := e.execs.UpdateCAS(ctx, exec); err != nil {
		return err
	}

	err := agent.Process(ctx, st)
	if err != nil {
		if agents.Skippable(err) {
			e.markAgent(exec, node, domain.AgentSkipped, err.Error())
			e.log.Info().
				Str("execution_id", exec.ID).
				Str("agent", node.AgentType).
				Str("reason", err.Error()).
				Msg("Agent skipped")
			e.emitAgent(exec, node, domain.AgentSkipped)
			return nil
		}
		agentErr := &agents.Error{Agent: node.AgentType, Err: err}
		e.markAgent(exec, node, domain.AgentFailed, agentErr.Error())
		e.emitAgent(exec, node, domain.AgentFailed)
		if agentErr.Critical() {
			return agentErr
		}
		e.log.Warn().Err(err).
			Str("execution_id", exec.ID).
			Str("agent", node.AgentType).
			Msg("Non-critical agent failure, continuing")
		return nil
	}

	e.markAgent(exec, node, domain.AgentCompleted, "")
	e.emitAgent(exec, node, domain.AgentCompleted)
	return nil
}

// parkForApproval stops the run at AWAITING_APPROVAL with the full state
// snapshotted, so Approve can pick up exactly where we stopped.
func (e *Executor) parkForApproval(ctx context.Context, exec *domain.Execution, p *domain.Pipeline, st *domain.PipelineState) error {
	if err := e.transition(ctx, exec, st, domain.StatusAwaitingApproval, domain.PhaseRunning); err != nil {
		return err
	}

	qty := 0.0
	if st.RiskAssessment != nil {
		qty = st.RiskAssessment.PositionSize
	}
	e.events.EmitTyped("executor", &events.ApprovalRequestedData{
		ExecutionID: exec.ID,
		PipelineID:  p.ID,
		Symbol:      exec.Symbol,
		Action:      string(st.Strategy.Action),
		Qty:         qty,
	})
	if p.WantsNotification(notify.EventApprovalRequested) {
		e.notify.SendQuiet(ctx, fmt.Sprintf(
			"*Approval needed*\n%s %s x%.0f on pipeline %s",
			st.Strategy.Action, exec.Symbol, qty, p.Name))
	}
	e.log.Info().
		Str("execution_id", exec.ID).
		Str("symbol", exec.Symbol).
		Msg("Execution parked for approval")
	return nil
}

func (e *Executor) failRun(ctx context.Context, exec *domain.Execution, p *domain.Pipeline, st *domain.PipelineState, cause error) error {
	exec.ErrorMessage = cause.Error()
	now := time.Now().UTC()
	exec.CompletedAt = &now
	e.settleCosts(ctx, exec, st)
	if err := e.transition(ctx, exec, st, domain.StatusFailed, domain.PhaseCompleted); err != nil {
		return err
	}
	e.events.EmitError("executor", cause, map[string]interface{}{
		"execution_id": exec.ID,
		"symbol":       exec.Symbol,
	})
	if p.WantsNotification(notify.EventExecutionFailed) {
		e.notify.SendQuiet(ctx, fmt.Sprintf(
			"*Execution failed*\n%s on pipeline %s: %v", exec.Symbol, p.Name, cause))
	}
	return nil
}

// finish routes the run to MONITORING when the trade manager left an order
// in flight, otherwise to COMPLETED.
func (e *Executor) finish(ctx context.Context, exec *domain.Execution, p *domain.Pipeline, st *domain.PipelineState) error {
	e.settleCosts(ctx, exec, st)

	if st.Phase == domain.PhaseMonitoring {
		exec.MonitorIntervalMinutes = st.MonitorIntervalMinutes
		next := time.Now().UTC().Add(exec.MonitorInterval())
		exec.NextCheckAt = &next
		if err := e.transition(ctx, exec, st, domain.StatusMonitoring, domain.PhaseMonitoring); err != nil {
			return err
		}
		e.announceTrade(ctx, exec, p, st)
		return nil
	}

	now := time.Now().UTC()
	exec.CompletedAt = &now
	return e.transition(ctx, exec, st, domain.StatusCompleted, domain.PhaseCompleted)
}

func (e *Executor) announceTrade(ctx context.Context, exec *domain.Execution, p *domain.Pipeline, st *domain.PipelineState) {
	te := st.TradeExecution
	if te == nil || te.OrderID == "" {
		return
	}
	side := ""
	qty := 0.0
	if st.Strategy != nil {
		side = string(st.Strategy.Action)
	}
	if st.RiskAssessment != nil {
		qty = st.RiskAssessment.PositionSize
	}
	e.events.EmitTyped("executor", &events.TradeExecutedData{
		ExecutionID: exec.ID,
		Symbol:      exec.Symbol,
		OrderID:     te.OrderID,
		Side:        side,
		Qty:         qty,
		OrderType:   te.OrderType,
	})
	if p.WantsNotification(notify.EventTradeExecuted) {
		e.notify.SendQuiet(ctx, fmt.Sprintf(
			"*Order submitted*\n%s %s x%.0f (order %s)", side, exec.Symbol, qty, te.OrderID))
	}
}

// settleCosts copies the run's cost ledger onto the row and charges the
// user's budget. Charge failures are logged, not fatal: the execution
// result matters more than the bookkeeping.
func (e *Executor) settleCosts(ctx context.Context, exec *domain.Execution, st *domain.PipelineState) {
	if st == nil || len(st.AgentCosts) == 0 {
		return
	}
	total := 0.0
	for _, c := range st.AgentCosts {
		total += c
	}
	exec.Cost = total
	exec.CostBreakdown = st.AgentCosts
	if total > 0 {
		if err := e.users.AddSpend(ctx, exec.UserID, total); err != nil {
			e.log.Error().Err(err).
				Str("user_id", exec.UserID).
				Float64("amount", total).
				Msg("Failed to charge user budget")
		}
	}
}

// transition commits a status change and emits the status event. A nil
// state skips the snapshot refresh.
func (e *Executor) transition(ctx context.Context, exec *domain.Execution, st *domain.PipelineState, status domain.ExecutionStatus, phase domain.ExecutionPhase) error {
	old := exec.Status
	exec.Status = status
	exec.Phase = phase
	if st != nil {
		e.syncState(exec, st)
	}
	if err := e.execs.UpdateCAS(ctx, exec); err != nil {
		return err
	}
	e.events.EmitTyped("executor", &events.ExecutionStatusChangedData{
		ExecutionID: exec.ID,
		PipelineID:  exec.PipelineID,
		Symbol:      exec.Symbol,
		OldStatus:   string(old),
		NewStatus:   string(status),
	})
	return nil
}

// syncState refreshes the row's denormalized columns from the live state.
// Snapshot failures are logged and tolerated: the result column still lets
// monitoring reconstruct a lossy state.
func (e *Executor) syncState(exec *domain.Execution, st *domain.PipelineState) {
	exec.Result = resultFromState(st)
	exec.Logs = st.ExecutionLog
	exec.Reports = st.AgentReports
	snap, err := domain.EncodeSnapshot(st)
	if err != nil {
		e.log.Error().Err(err).Str("execution_id", exec.ID).Msg("Failed to snapshot state")
		return
	}
	exec.Snapshot = snap
}

func (e *Executor) markAgent(exec *domain.Execution, node domain.AgentNode, status domain.AgentStatus, errMsg string) {
	now := time.Now().UTC()
	for i := range exec.AgentStates {
		if exec.AgentStates[i].AgentID != node.ID {
			continue
		}
		as := &exec.AgentStates[i]
		as.Status = status
		as.Error = errMsg
		switch status {
		case domain.AgentRunning:
			as.StartedAt = &now
		default:
			as.CompletedAt = &now
		}
		return
	}
	st := domain.AgentState{AgentID: node.ID, AgentType: node.AgentType, Status: status, Error: errMsg}
	if status == domain.AgentRunning {
		st.StartedAt = &now
	} else {
		st.CompletedAt = &now
	}
	exec.AgentStates = append(exec.AgentStates, st)
}

func (e *Executor) emitAgent(exec *domain.Execution, node domain.AgentNode, status domain.AgentStatus) {
	e.events.EmitTyped("executor", &events.AgentCompletedData{
		ExecutionID: exec.ID,
		AgentType:   node.AgentType,
		Status:      string(status),
	})
}

// initialAgentStates pre-populates one pending state per runnable node so
// the UI sees the full plan before the first agent starts.
func initialAgentStates(p *domain.Pipeline) []domain.AgentState {
	var states []domain.AgentState
	for _, agentType := range agents.Sequence {
		if node, ok := p.AgentNode(agentType); ok {
			states = append(states, domain.AgentState{
				AgentID:   node.ID,
				AgentType: node.AgentType,
				Status:    domain.AgentPending,
			})
		}
	}
	return states
}

func newState(exec *domain.Execution) *domain.PipelineState {
	return &domain.PipelineState{
		Symbol:                 exec.Symbol,
		Mode:                   exec.Mode,
		SignalContext:          exec.Signal,
		Phase:                  domain.PhasePending,
		MonitorIntervalMinutes: exec.MonitorIntervalMinutes,
	}
}

func resultFromState(st *domain.PipelineState) *domain.ExecutionResult {
	return &domain.ExecutionResult{
		Bias:           st.Biases,
		Strategy:       st.Strategy,
		RiskAssessment: st.RiskAssessment,
		TradeExecution: st.TradeExecution,
		TradeOutcome:   st.TradeOutcome,
		AgentReports:   st.AgentReports,
	}
}

// actionable reports whether the run produced a trade the approval gate
// should hold: an approved BUY or SELL.
func actionable(st *domain.PipelineState) bool {
	if st.Strategy == nil || st.RiskAssessment == nil || !st.RiskAssessment.Approved {
		return false
	}
	return st.Strategy.Action == domain.ActionBuy || st.Strategy.Action == domain.ActionSell
}

// signalFromPayload tolerates both the in-process struct form and the
// decoded-map form of a job payload's signal field.
func signalFromPayload(v interface{}) *domain.SignalContext {
	switch s := v.(type) {
	case domain.SignalContext:
		return &s
	case *domain.SignalContext:
		return s
	case map[string]interface{}:
		b, err := json.Marshal(s)
		if err != nil {
			return nil
		}
		var sc domain.SignalContext
		if err := json.Unmarshal(b, &sc); err != nil {
			return nil
		}
		return &sc
	}
	return nil
}

func signalID(sc *domain.SignalContext) string {
	if sc == nil {
		return ""
	}
	return sc.SignalID
}
