package events

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskstream/internal/domain/activity"
	"riskstream/pkg/errors"
)

func TestDecodeAgentActivity(t *testing.T) {
	frame := []byte(`{"type":"agent_activity","data":{
		"agent_name":"Drift Monitor","agent_type":"drift","status":"analyzing",
		"message":"Measuring allocation drift","timestamp":"2026-10-19T10:00:00Z",
		"progress":0.25,"data":{"portfolio_id":"P-1"}}}`)

	ev, err := Decode(frame)
	require.NoError(t, err)

	a, ok := ev.(AgentActivity)
	require.True(t, ok)
	assert.Equal(t, KindAgentActivity, a.Kind())
	assert.Equal(t, "Drift Monitor", a.AgentName)
	assert.Equal(t, activity.AgentTypeDrift, a.AgentType)
	assert.Equal(t, activity.StatusAnalyzing, a.Status)
	require.NotNil(t, a.Progress)
	assert.InDelta(t, 0.25, *a.Progress, 1e-9)
	assert.JSONEq(t, `{"portfolio_id":"P-1"}`, string(a.Data))

	stored := a.ToActivity()
	assert.Equal(t, activity.ActivityID(activity.AgentTypeDrift, activity.StatusAnalyzing, "Measuring allocation drift"), stored.ID)
	assert.Equal(t, "2026-10-19T10:00:00Z", stored.Timestamp)
}

func TestDecodeThinking(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		text     string
		complete bool
	}{
		{
			name:  "chunk",
			frame: `{"type":"thinking","data":{"agent_name":"Tax Optimizer","chunk":"  Harvest losses in VTI  "}}`,
			text:  "Harvest losses in VTI",
		},
		{
			name:  "content fallback",
			frame: `{"type":"thinking","data":{"agent_name":"Tax Optimizer","content":"Wash sale window open"}}`,
			text:  "Wash sale window open",
		},
		{
			name:  "chunk wins over content",
			frame: `{"type":"thinking","data":{"agent_name":"Tax Optimizer","chunk":"a","content":"b"}}`,
			text:  "a",
		},
		{
			name:     "completion marker",
			frame:    `{"type":"thinking","data":{"agent_name":"Tax Optimizer","is_complete":true}}`,
			complete: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.frame))
			require.NoError(t, err)
			th := ev.(Thinking)
			assert.Equal(t, "Tax Optimizer", th.AgentName)
			assert.Equal(t, tt.text, th.Text())
			assert.Equal(t, tt.complete, th.IsComplete)
		})
	}
}

func TestDecodeDebateMessageClampsConfidence(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"debate_message","data":{
		"agent_id":"a1","agent_name":"Compliance Officer","phase":"opening",
		"position":"against","message":"Concentration limit breached","confidence":140,
		"key_points":["limit 10%","position 14%"]}}`))
	require.NoError(t, err)

	msg := ev.(DebateMessage)
	assert.Equal(t, activity.PositionAgainst, msg.Position)
	assert.Equal(t, 100.0, msg.Confidence)
	assert.Equal(t, []string{"limit 10%", "position 14%"}, msg.KeyPoints)

	ev, err = Decode([]byte(`{"type":"debate_message","data":{"agent_name":"x","message":"y","confidence":-3}}`))
	require.NoError(t, err)
	assert.Equal(t, 0.0, ev.(DebateMessage).Confidence)
}

func TestDecodeScenarios(t *testing.T) {
	payload := `[{"id":"s1","title":"Rebalance","description":"Sell 5% equities","score":87.5,
		"is_recommended":true,"actions":[{"action":"sell","symbol":"VTI","amount":"1200.50"}]}]`

	for name, frame := range map[string]string{
		"bare array": `{"type":"scenarios","data":` + payload + `}`,
		"wrapped":    `{"type":"scenarios","data":{"scenarios":` + payload + `}}`,
	} {
		t.Run(name, func(t *testing.T) {
			ev, err := Decode([]byte(frame))
			require.NoError(t, err)

			list := ev.(Scenarios).Scenarios
			require.Len(t, list, 1)
			assert.Equal(t, "s1", list[0].ID)
			assert.True(t, list[0].IsRecommended)
			assert.True(t, decimal.NewFromFloat(87.5).Equal(list[0].Score))
			require.Len(t, list[0].Actions, 1)
			assert.True(t, decimal.RequireFromString("1200.50").Equal(list[0].Actions[0].Amount))
		})
	}

	ev, err := Decode([]byte(`{"type":"scenarios","data":null}`))
	require.NoError(t, err)
	assert.NotNil(t, ev.(Scenarios).Scenarios)
	assert.Empty(t, ev.(Scenarios).Scenarios)
}

func TestDecodeDebatePhaseTopicFallback(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"debate_phase","data":{"phase":"rebuttal","topic":"Sell or hold VTI?"}}`))
	require.NoError(t, err)

	phase := ev.(DebatePhase).ToPhase()
	assert.Equal(t, activity.PhaseRebuttal, phase.Phase)
	assert.Equal(t, "Sell or hold VTI?", phase.Question)
}

func TestDecodeInformational(t *testing.T) {
	tests := map[string]Kind{
		`{"type":"connection","data":{"status":"connected"}}`:                          KindConnection,
		`{"type":"scenario_approved","data":{"scenario_id":"s1","approval_hash":"ab"}}`: KindScenarioApproved,
		`{"type":"what_if_result","data":{"delta":-0.4}}`:                              KindWhatIfResult,
		`{"type":"debate_consensus","data":{"decision":"rebalance","confidence":80}}`:   KindDebateConsensus,
	}

	for frame, kind := range tests {
		ev, err := Decode([]byte(frame))
		require.NoError(t, err, frame)
		assert.Equal(t, kind, ev.Kind())
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		frame  string
		target error
	}{
		{name: "not json", frame: `hello`, target: errors.ErrMalformedFrame},
		{name: "json array", frame: `[1,2]`, target: errors.ErrMalformedFrame},
		{name: "missing type", frame: `{"data":{}}`, target: errors.ErrMalformedFrame},
		{name: "activity without agent", frame: `{"type":"agent_activity","data":{"status":"complete"}}`, target: errors.ErrMalformedFrame},
		{name: "activity with wrong shape", frame: `{"type":"agent_activity","data":"oops"}`, target: errors.ErrMalformedFrame},
		{name: "thinking without agent", frame: `{"type":"thinking","data":{"chunk":"x"}}`, target: errors.ErrMalformedFrame},
		{name: "merkle without hash", frame: `{"type":"merkle_block","data":{"event_type":"approval"}}`, target: errors.ErrMalformedFrame},
		{name: "phase without phase", frame: `{"type":"debate_phase","data":{"question":"?"}}`, target: errors.ErrMalformedFrame},
		{name: "scenarios with wrong shape", frame: `{"type":"scenarios","data":{"scenarios":"none"}}`, target: errors.ErrMalformedFrame},
		{name: "unknown kind", frame: `{"type":"market_tick","data":{}}`, target: errors.ErrUnknownEventKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.frame))
			assert.Nil(t, ev)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}
}

func TestNewEnvelope(t *testing.T) {
	frame, err := NewEnvelope("subscribe", map[string]string{"portfolio_id": "P-1"})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, "subscribe", env.Type)
	assert.JSONEq(t, `{"portfolio_id":"P-1"}`, string(env.Data))
}

func TestEveryKindDecodes(t *testing.T) {
	samples := map[Kind]string{
		KindAgentActivity:    `{"agent_name":"a","agent_type":"drift","status":"idle","message":"m"}`,
		KindThinking:         `{"agent_name":"a","chunk":"c"}`,
		KindDebateMessage:    `{"agent_name":"a","message":"m"}`,
		KindMerkleBlock:      `{"block_hash":"h","event_type":"e","timestamp":"t"}`,
		KindScenarios:        `[]`,
		KindDebatePhase:      `{"phase":"opening"}`,
		KindConnection:       `{"status":"connected"}`,
		KindScenarioApproved: `{"scenario_id":"s"}`,
		KindWhatIfResult:     `{}`,
		KindDebateConsensus:  `{}`,
	}

	require.Len(t, samples, len(Kinds()))
	for _, kind := range Kinds() {
		data, ok := samples[kind]
		require.True(t, ok, "no sample for %s", kind)

		ev, err := Decode([]byte(`{"type":"` + string(kind) + `","data":` + data + `}`))
		require.NoError(t, err, kind)
		assert.Equal(t, kind, ev.Kind())
	}
}
