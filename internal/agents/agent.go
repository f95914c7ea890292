// Package agents implements the fixed analysis sequence a pipeline run
// walks through: market data, bias, strategy, risk manager. The trade
// manager closes the sequence and lives in its own package.
package agents

import (
	"context"

	"github.com/aristath/tradewinds/internal/domain"
)

// Agent types in execution order. Pipeline nodes reference these; nodes
// with any other type are skipped.
const (
	TypeMarketData   = "market_data_agent"
	TypeBias         = "bias_agent"
	TypeStrategy     = "strategy_agent"
	TypeRiskManager  = "risk_manager_agent"
	TypeTradeManager = "trade_manager_agent"
)

// Sequence is the fixed execution order.
var Sequence = []string{TypeMarketData, TypeBias, TypeStrategy, TypeRiskManager, TypeTradeManager}

// Agent processes one stage of a pipeline state. Implementations are pure
// over their injected dependencies: same state and market in, same state
// out.
type Agent interface {
	Type() string
	Process(ctx context.Context, st *domain.PipelineState) error
}
