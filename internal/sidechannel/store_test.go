package sidechannel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowscan-clone/traceviewer-engine/internal/tracemodel"
)

func TestRegisterFlowReachableFromSourceAndTargetTrack(t *testing.T) {
	s := NewStore()
	rec := tracemodel.DataFlowRecord{
		SourceEventID: 1,
		TargetTrackID: 9,
		TargetEventID: 2,
		TargetTs:      100,
		Endpoint:      tracemodel.FlowEndpoint{Kind: tracemodel.FlowEndpointGPU, GPULastTimestamp: 50},
	}
	s.RegisterFlow(5, rec)

	require.Len(t, s.Flow(1), 1)
	assert.Equal(t, rec, s.Flow(1)[0])
	assert.Len(t, s.FlowForTrack(5), 1)
	assert.Len(t, s.FlowForTrack(9), 1)
}

func TestDeletePropertyRemovesFlowFromBothIndexes(t *testing.T) {
	s := NewStore()
	rec := tracemodel.DataFlowRecord{SourceEventID: 1, TargetTrackID: 9, TargetEventID: 2}
	s.RegisterFlow(5, rec)

	s.DeleteProperty(KindFlow, 1)
	assert.Empty(t, s.Flow(1))
	assert.Empty(t, s.FlowForTrack(5))
	assert.Empty(t, s.FlowForTrack(9))
}

func TestStackAndExtDataRoundTrip(t *testing.T) {
	s := NewStore()
	frames := []tracemodel.StackFrame{{SymbolID: 1, ArgsID: 2, Line: 10, Depth: 0}}
	s.RegisterStack(42, frames)
	assert.Equal(t, frames, s.Stack(42))

	ext := []ExtDatum{{Name: "grid_size", Value: 64}}
	s.RegisterExtData(42, ext)
	assert.Equal(t, ext, s.ExtData(42))

	s.DeleteAllProperties(KindStack)
	assert.Empty(t, s.Stack(42))
	assert.Equal(t, ext, s.ExtData(42))
}
