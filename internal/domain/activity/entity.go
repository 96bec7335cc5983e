package activity

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// AgentType identifies a server-side analysis unit
type AgentType string

const (
	AgentTypeDrift       AgentType = "drift"
	AgentTypeTax         AgentType = "tax"
	AgentTypeCompliance  AgentType = "compliance"
	AgentTypeScenario    AgentType = "scenario"
	AgentTypeCoordinator AgentType = "coordinator"
	AgentTypeGateway     AgentType = "gateway" // ingress; reports that a portfolio event was received
)

// DomainAgentTypes are the three analysis agents whose completion finishes the analysis stage
var DomainAgentTypes = []AgentType{AgentTypeDrift, AgentTypeTax, AgentTypeCompliance}

// IsDomain reports whether t is one of the three analysis agents
func (t AgentType) IsDomain() bool {
	for _, d := range DomainAgentTypes {
		if t == d {
			return true
		}
	}
	return false
}

// AgentStatus is the lifecycle state reported for an agent
type AgentStatus string

const (
	StatusIdle      AgentStatus = "idle"
	StatusAnalyzing AgentStatus = "analyzing"
	StatusThinking  AgentStatus = "thinking"
	StatusActive    AgentStatus = "active"
	StatusDebating  AgentStatus = "debating"
	StatusComplete  AgentStatus = "complete"
	StatusError     AgentStatus = "error"
)

// IsActive reports whether the status places an agent in the active set
func (s AgentStatus) IsActive() bool {
	return s == StatusAnalyzing || s == StatusThinking || s == StatusActive
}

// IsTerminal reports whether the status removes an agent from the active set
func (s AgentStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusIdle || s == StatusError
}

// Agent is a currently active analysis unit
type Agent struct {
	Name   string      `json:"name"`
	Type   AgentType   `json:"type"`
	Status AgentStatus `json:"status"`
}

// ActivityEvent is one status report about one agent.
// ID is derived from the content, see ActivityID.
type ActivityEvent struct {
	ID        string          `json:"id"`
	AgentName string          `json:"agent_name"`
	AgentType AgentType       `json:"agent_type"`
	Status    AgentStatus     `json:"status"`
	Message   string          `json:"message"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Progress  *float64        `json:"progress,omitempty"`
}

// ThinkingState is the in-progress reasoning stream of one agent
type ThinkingState struct {
	AgentName      string    `json:"agent_name"`
	AgentType      AgentType `json:"agent_type,omitempty"`
	CurrentThought string    `json:"current_thought"`
	LastUpdateTime time.Time `json:"last_update_time"`
	Thoughts       []string  `json:"thoughts"`
}

// LatestThought returns the most recent thought, if any
func (t ThinkingState) LatestThought() string {
	if len(t.Thoughts) == 0 {
		return t.CurrentThought
	}
	return t.Thoughts[len(t.Thoughts)-1]
}

// CompletedAgentSummary is created once per agent completion, keyed by name
type CompletedAgentSummary struct {
	Name        string    `json:"name"`
	Type        AgentType `json:"type"`
	Summary     string    `json:"summary"`
	Thoughts    []string  `json:"thoughts"`
	CompletedAt time.Time `json:"completed_at"`
}

// DebatePosition is the stance an agent takes in a debate message
type DebatePosition string

const (
	PositionFor       DebatePosition = "for"
	PositionAgainst   DebatePosition = "against"
	PositionNeutral   DebatePosition = "neutral"
	PositionSynthesis DebatePosition = "synthesis"
)

// DebateMessage is one argument in the debate transcript
type DebateMessage struct {
	AgentID    string         `json:"agent_id,omitempty"`
	AgentName  string         `json:"agent_name"`
	Phase      string         `json:"phase,omitempty"`
	Position   DebatePosition `json:"position"`
	Message    string         `json:"message"`
	Confidence float64        `json:"confidence"` // 0..100
	KeyPoints  []string       `json:"key_points,omitempty"`
	Timestamp  string         `json:"timestamp,omitempty"`
}

// Phase is a step of the debate
type Phase string

const (
	PhaseOpening   Phase = "opening"
	PhaseRebuttal  Phase = "rebuttal"
	PhaseSynthesis Phase = "synthesis"
	PhaseConsensus Phase = "consensus"
)

// DebatePhase is the current debate phase and its topic
type DebatePhase struct {
	Phase    Phase  `json:"phase"`
	Question string `json:"question,omitempty"`
}

// MerkleBlock is one audit-chain record pushed by the server.
// Hashing and verification belong to the audit backend.
type MerkleBlock struct {
	BlockHash string `json:"block_hash"`
	EventType string `json:"event_type"`
	Timestamp string `json:"timestamp"`
}

// ScenarioAction is one trade or adjustment proposed by a scenario
type ScenarioAction struct {
	Action    string          `json:"action"`
	Symbol    string          `json:"symbol,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Rationale string          `json:"rationale,omitempty"`
}

// Scenario is a ranked remediation option
type Scenario struct {
	ID            string           `json:"id"`
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	Score         decimal.Decimal  `json:"score"`
	IsRecommended bool             `json:"is_recommended"`
	Actions       []ScenarioAction `json:"actions"`
}
