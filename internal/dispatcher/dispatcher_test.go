package dispatcher

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"riskstream/internal/domain/activity"
	"riskstream/internal/events"
	"riskstream/internal/store"
	"riskstream/pkg/logger"
)

type recordingTap struct {
	mu    sync.Mutex
	kinds []events.Kind
}

func (t *recordingTap) Tap(kind events.Kind, _ []byte) {
	t.mu.Lock()
	t.kinds = append(t.kinds, kind)
	t.mu.Unlock()
}

func newDispatcher(t *testing.T, opts ...Option) (*Dispatcher, *store.Store) {
	t.Helper()
	s := store.New(store.DefaultConfig(), logger.Nop())
	t.Cleanup(s.Close)
	return New(s, logger.Nop(), opts...), s
}

func TestHandleFrame_AppliesEvents(t *testing.T) {
	d, s := newDispatcher(t)

	frames := []string{
		`{"type":"agent_activity","data":{"agent_name":"gateway","agent_type":"gateway","status":"complete","message":"Portfolio event received","timestamp":"2024-03-01T12:00:00Z"}}`,
		`{"type":"agent_activity","data":{"agent_name":"DriftAgent","agent_type":"drift","status":"analyzing","message":"Checking drift","timestamp":"2024-03-01T12:00:01Z"}}`,
		`{"type":"thinking","data":{"agent_name":"DriftAgent","chunk":"Tech overweight by 8%"}}`,
		`{"type":"debate_message","data":{"agent_id":"tax-1","agent_name":"TaxAgent","phase":"opening","position":"against","message":"Wash sale risk","confidence":140,"key_points":["wash sale"],"timestamp":"2024-03-01T12:01:00Z"}}`,
		`{"type":"debate_phase","data":{"phase":"rebuttal","topic":"Sell VTI?"}}`,
		`{"type":"merkle_block","data":{"block_hash":"abc123","event_type":"analysis","timestamp":"2024-03-01T12:01:05Z"}}`,
		`{"type":"scenarios","data":{"scenarios":[{"id":"s1","title":"Rebalance","score":"0.82","is_recommended":true,"actions":[]}]}}`,
	}
	for _, f := range frames {
		d.HandleFrame([]byte(f))
	}

	snap := s.Snapshot()
	assert.Len(t, snap.Activities, 2)
	_, active := snap.ActiveAgent("DriftAgent")
	assert.True(t, active)
	assert.Equal(t, "Tech overweight by 8%", snap.Thinking["DriftAgent"].CurrentThought)

	require.Len(t, snap.DebateMessages, 1)
	assert.Equal(t, 100.0, snap.DebateMessages[0].Confidence)

	require.NotNil(t, snap.DebatePhase)
	assert.Equal(t, activity.PhaseRebuttal, snap.DebatePhase.Phase)
	assert.Equal(t, "Sell VTI?", snap.DebatePhase.Question)

	require.Len(t, snap.MerkleBlocks, 1)
	require.Len(t, snap.Scenarios, 1)
	assert.True(t, snap.Scenarios[0].IsRecommended)
	assert.Equal(t, uint64(len(frames)), snap.Version)
}

func TestHandleFrame_DropsBadFrames(t *testing.T) {
	d, s := newDispatcher(t)

	bad := []string{
		`not json`,
		`{"data":{}}`,
		`{"type":"agent_activity","data":"oops"}`,
		`{"type":"agent_activity","data":{"status":"complete"}}`,
		`{"type":"merkle_block","data":{"event_type":"x"}}`,
		`{"type":"portfolio_renamed","data":{"id":"p1"}}`,
	}
	for _, f := range bad {
		assert.NotPanics(t, func() { d.HandleFrame([]byte(f)) })
	}

	snap := s.Snapshot()
	assert.Equal(t, uint64(0), snap.Version)
	assert.True(t, snap.ActivityCleared())
}

func TestHandleFrame_StreamSurvivesBadFrame(t *testing.T) {
	d, s := newDispatcher(t)

	d.HandleFrame([]byte(`{"type":"thinking","data":{"chunk":"no agent"}}`))
	d.HandleFrame([]byte(`{"type":"thinking","data":{"agent_name":"TaxAgent","content":"lots to harvest"}}`))

	assert.Contains(t, s.Snapshot().Thinking, "TaxAgent")
}

func TestHandleFrame_InformationalKindsLeaveStateUnchanged(t *testing.T) {
	d, s := newDispatcher(t)

	for _, f := range []string{
		`{"type":"connection","data":{"status":"connected","message":"welcome"}}`,
		`{"type":"scenario_approved","data":{"scenario_id":"s1","approval_hash":"h"}}`,
		`{"type":"what_if_result","data":{"anything":[1,2,3]}}`,
		`{"type":"debate_consensus","data":{"decision":"rebalance","confidence":72}}`,
	} {
		d.HandleFrame([]byte(f))
	}

	assert.Equal(t, uint64(0), s.Snapshot().Version)
}

func TestHandleFrame_Tap(t *testing.T) {
	tap := &recordingTap{}
	d, _ := newDispatcher(t, WithTap(tap))

	d.HandleFrame([]byte(`{"type":"merkle_block","data":{"block_hash":"h1"}}`))
	d.HandleFrame([]byte(`garbage`))
	d.HandleFrame([]byte(`{"type":"connection","data":{"status":"ok"}}`))

	assert.Equal(t, []events.Kind{events.KindMerkleBlock, events.KindConnection}, tap.kinds)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) SetConnected(connected bool) bool {
	return m.Called(connected).Bool(0)
}

func (m *mockStore) RecordActivity(ev events.AgentActivity) bool {
	return m.Called(ev).Bool(0)
}

func (m *mockStore) RecordThinking(ev events.Thinking) bool {
	return m.Called(ev).Bool(0)
}

func (m *mockStore) AppendDebateMessage(msg activity.DebateMessage) bool {
	return m.Called(msg).Bool(0)
}

func (m *mockStore) AppendMerkleBlock(block activity.MerkleBlock) bool {
	return m.Called(block).Bool(0)
}

func (m *mockStore) ReplaceScenarios(scenarios []activity.Scenario) bool {
	return m.Called(scenarios).Bool(0)
}

func (m *mockStore) SetDebatePhase(phase activity.DebatePhase) bool {
	return m.Called(phase).Bool(0)
}

func TestOnConnectionChange(t *testing.T) {
	ms := new(mockStore)
	ms.On("SetConnected", true).Return(true).Once()
	ms.On("SetConnected", false).Return(true).Once()

	d := New(ms, logger.Nop())
	d.OnConnectionChange(true)
	d.OnConnectionChange(false)

	ms.AssertExpectations(t)
}

func TestHandleFrame_RecoversFromStorePanic(t *testing.T) {
	ms := new(mockStore)
	ms.On("AppendMerkleBlock", mock.Anything).Run(func(mock.Arguments) {
		panic("boom")
	}).Return(true)

	d := New(ms, logger.Nop())
	assert.NotPanics(t, func() {
		d.HandleFrame([]byte(`{"type":"merkle_block","data":{"block_hash":"h1"}}`))
	})
}

func TestDispatch_ScenariosNullBecomesEmpty(t *testing.T) {
	ms := new(mockStore)
	ms.On("ReplaceScenarios", []activity.Scenario{}).Return(true).Once()

	d := New(ms, logger.Nop())
	d.HandleFrame([]byte(`{"type":"scenarios","data":null}`))

	ms.AssertExpectations(t)
}
