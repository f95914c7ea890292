package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestSnapshotRoundTrip(t *testing.T) {
	st := &PipelineState{
		Symbol: "AAPL",
		Mode:   ModePaper,
		Strategy: &Strategy{
			Action:     ActionBuy,
			EntryPrice: 187.50,
			StopLoss:   185.00,
			TakeProfit: 192.00,
			Confidence: 74,
		},
		TradeExecution: &TradeExecution{
			OrderID: "ord-123",
			Status:  TradeStatusFilled,
		},
		Phase:                  PhaseMonitoring,
		MonitorIntervalMinutes: 0.25,
	}
	st.Log("order filled")

	b, err := EncodeSnapshot(st)
	require.NoError(t, err)

	got, err := DecodeSnapshot(b)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", got.Symbol)
	assert.Equal(t, ActionBuy, got.Strategy.Action)
	assert.Equal(t, TradeStatusFilled, got.TradeExecution.Status)
	assert.Equal(t, PhaseMonitoring, got.Phase)
	assert.Equal(t, 0.25, got.MonitorIntervalMinutes)
	assert.Len(t, got.ExecutionLog, 1)
}

func TestEncodeSnapshotNil(t *testing.T) {
	_, err := EncodeSnapshot(nil)
	assert.Error(t, err)
}

func TestDecodeSnapshotEmpty(t *testing.T) {
	_, err := DecodeSnapshot(nil)
	assert.Error(t, err)
}

func TestDecodeSnapshotUnsupportedVersion(t *testing.T) {
	b, err := msgpack.Marshal(snapshotEnvelope{
		Version: SnapshotVersion + 1,
		State:   &PipelineState{Symbol: "AAPL"},
	})
	require.NoError(t, err)

	_, err = DecodeSnapshot(b)
	assert.ErrorContains(t, err, "unsupported snapshot version")
}

func TestReconstructState(t *testing.T) {
	exec := &Execution{
		Symbol: "TSLA",
		Mode:   ModeLive,
		Phase:  PhaseMonitoring,
		Result: &ExecutionResult{
			Strategy:       &Strategy{Action: ActionSell},
			TradeExecution: &TradeExecution{OrderID: "ord-9", Status: TradeStatusPendingFill},
		},
		MonitorIntervalMinutes: 5.0,
	}

	st, err := ReconstructState(exec)
	require.NoError(t, err)
	assert.Equal(t, "TSLA", st.Symbol)
	assert.Equal(t, ModeLive, st.Mode)
	assert.Equal(t, "ord-9", st.TradeExecution.OrderID)
}

func TestReconstructStateRequiresTradeExecution(t *testing.T) {
	exec := &Execution{Result: &ExecutionResult{Strategy: &Strategy{Action: ActionBuy}}}
	_, err := ReconstructState(exec)
	assert.Error(t, err)

	_, err = ReconstructState(&Execution{})
	assert.Error(t, err)

	_, err = ReconstructState(nil)
	assert.Error(t, err)
}
