package domain

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// SnapshotVersion is bumped whenever the PipelineState layout changes in a
// way old decoders cannot tolerate. Decoding accepts any version up to the
// current one; unknown msgpack fields are ignored, so additive changes do
// not need a bump.
const SnapshotVersion = 1

type snapshotEnvelope struct {
	Version int            `msgpack:"version"`
	State   *PipelineState `msgpack:"state"`
}

// EncodeSnapshot serializes a PipelineState for the execution row. The
// envelope carries a version so snapshots survive rolling upgrades.
func EncodeSnapshot(st *PipelineState) ([]byte, error) {
	if st == nil {
		return nil, fmt.Errorf("cannot encode nil pipeline state")
	}
	b, err := msgpack.Marshal(snapshotEnvelope{Version: SnapshotVersion, State: st})
	if err != nil {
		return nil, fmt.Errorf("failed to encode pipeline state snapshot: %w", err)
	}
	return b, nil
}

// DecodeSnapshot restores a PipelineState from a stored snapshot.
func DecodeSnapshot(b []byte) (*PipelineState, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty pipeline state snapshot")
	}
	var env snapshotEnvelope
	if err := msgpack.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("failed to decode pipeline state snapshot: %w", err)
	}
	if env.Version <= 0 || env.Version > SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", env.Version)
	}
	if env.State == nil {
		return nil, fmt.Errorf("snapshot carries no state")
	}
	return env.State, nil
}

// ReconstructState builds a lossy PipelineState from the denormalized result
// column. Used only when the snapshot itself is missing or corrupt.
func ReconstructState(exec *Execution) (*PipelineState, error) {
	if exec == nil || exec.Result == nil {
		return nil, fmt.Errorf("execution has no result to reconstruct from")
	}
	st := &PipelineState{
		Symbol:                 exec.Symbol,
		Mode:                   exec.Mode,
		Strategy:               exec.Result.Strategy,
		RiskAssessment:         exec.Result.RiskAssessment,
		TradeExecution:         exec.Result.TradeExecution,
		TradeOutcome:           exec.Result.TradeOutcome,
		Phase:                  exec.Phase,
		MonitorIntervalMinutes: exec.MonitorIntervalMinutes,
	}
	if st.TradeExecution == nil {
		return nil, fmt.Errorf("result carries no trade execution; cannot reconstruct monitoring state")
	}
	return st, nil
}
