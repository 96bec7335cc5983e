package events

import (
	"encoding/json"

	"riskstream/internal/domain/activity"
)

// Event is the sum of all recognized inbound messages. The unexported marker keeps the
// set of variants closed to this package.
type Event interface {
	Kind() Kind
	event()
}

// AgentActivity reports a status change of one agent
type AgentActivity struct {
	AgentName string               `json:"agent_name"`
	AgentType activity.AgentType   `json:"agent_type"`
	Status    activity.AgentStatus `json:"status"`
	Message   string               `json:"message"`
	Timestamp string               `json:"timestamp"`
	Data      json.RawMessage      `json:"data,omitempty"`
	Progress  *float64             `json:"progress,omitempty"`
}

// ToActivity converts the event to its stored form, deriving the dedup id
func (e AgentActivity) ToActivity() activity.ActivityEvent {
	return activity.ActivityEvent{
		ID:        activity.ActivityID(e.AgentType, e.Status, e.Message),
		AgentName: e.AgentName,
		AgentType: e.AgentType,
		Status:    e.Status,
		Message:   e.Message,
		Timestamp: e.Timestamp,
		Data:      e.Data,
		Progress:  e.Progress,
	}
}

// Thinking is one fragment of an agent's reasoning stream, or its end marker
type Thinking struct {
	AgentName  string             `json:"agent_name"`
	AgentType  activity.AgentType `json:"agent_type,omitempty"`
	IsComplete bool               `json:"is_complete"`
	Chunk      string             `json:"chunk,omitempty"`
	Content    string             `json:"content,omitempty"`
	Timestamp  string             `json:"timestamp,omitempty"`
}

// Text returns the trimmed thought, preferring chunk over content
func (e Thinking) Text() string {
	return text(e.Chunk, e.Content)
}

// DebateMessage is one argument in the debate
type DebateMessage struct {
	activity.DebateMessage
}

// MerkleBlock is one audit-chain block notification
type MerkleBlock struct {
	activity.MerkleBlock
}

// Scenarios carries a full replacement scenario list
type Scenarios struct {
	Scenarios []activity.Scenario
}

// DebatePhase announces the current debate phase
type DebatePhase struct {
	Phase    activity.Phase `json:"phase"`
	Question string         `json:"question,omitempty"`
	Topic    string         `json:"topic,omitempty"`
}

// ToPhase converts the event to the stored phase
func (e DebatePhase) ToPhase() activity.DebatePhase {
	return activity.DebatePhase{Phase: e.Phase, Question: e.Question}
}

// Connection is the server's greeting or status notice
type Connection struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ScenarioApproved confirms an approval recorded server-side
type ScenarioApproved struct {
	ScenarioID   string `json:"scenario_id"`
	ApprovalHash string `json:"approval_hash,omitempty"`
}

// WhatIfResult carries the result of a what-if simulation, opaque to this client
type WhatIfResult struct {
	Raw json.RawMessage
}

// DebateConsensus summarizes the debate outcome
type DebateConsensus struct {
	Decision   string  `json:"decision,omitempty"`
	Summary    string  `json:"summary,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

func (AgentActivity) Kind() Kind    { return KindAgentActivity }
func (Thinking) Kind() Kind         { return KindThinking }
func (DebateMessage) Kind() Kind    { return KindDebateMessage }
func (MerkleBlock) Kind() Kind      { return KindMerkleBlock }
func (Scenarios) Kind() Kind        { return KindScenarios }
func (DebatePhase) Kind() Kind      { return KindDebatePhase }
func (Connection) Kind() Kind       { return KindConnection }
func (ScenarioApproved) Kind() Kind { return KindScenarioApproved }
func (WhatIfResult) Kind() Kind     { return KindWhatIfResult }
func (DebateConsensus) Kind() Kind  { return KindDebateConsensus }

func (AgentActivity) event()    {}
func (Thinking) event()         {}
func (DebateMessage) event()    {}
func (MerkleBlock) event()      {}
func (Scenarios) event()        {}
func (DebatePhase) event()      {}
func (Connection) event()       {}
func (ScenarioApproved) event() {}
func (WhatIfResult) event()     {}
func (DebateConsensus) event()  {}
