package activity

// StageID names one of the four pipeline stages
type StageID string

const (
	StageReceived       StageID = "received"
	StageAnalysis       StageID = "analysis"
	StageConsensus      StageID = "consensus"
	StageRecommendation StageID = "recommendation"
)

// StageOrder is the fixed pipeline order
var StageOrder = []StageID{StageReceived, StageAnalysis, StageConsensus, StageRecommendation}

// StageSet is a set of stages, used as the monotonic completion mark of a run
type StageSet uint8

func stageBit(id StageID) StageSet {
	for i, s := range StageOrder {
		if s == id {
			return 1 << i
		}
	}
	return 0
}

// Has reports whether id is in the set
func (s StageSet) Has(id StageID) bool {
	bit := stageBit(id)
	return bit != 0 && s&bit != 0
}

// With returns the set with id added
func (s StageSet) With(id StageID) StageSet {
	return s | stageBit(id)
}

// Snapshot is the canonical pipeline state at one point in time.
//
// A Snapshot is a value: the store never modifies slices or maps reachable from a
// snapshot it has handed out, it builds new ones. Readers must not modify them either.
type Snapshot struct {
	Version           uint64                           `json:"version"`
	Connected         bool                             `json:"connected"`
	SelectedPortfolio string                           `json:"selected_portfolio,omitempty"`
	ActiveAgents      []Agent                          `json:"active_agents"`
	Activities        []ActivityEvent                  `json:"activities"`
	Thinking          map[string]ThinkingState         `json:"thinking"`
	Completed         map[string]CompletedAgentSummary `json:"completed"`
	DebateMessages    []DebateMessage                  `json:"debate_messages"`
	DebatePhase       *DebatePhase                     `json:"debate_phase"`
	MerkleBlocks      []MerkleBlock                    `json:"merkle_blocks"`
	Scenarios         []Scenario                       `json:"scenarios"`
	CompletedStages   StageSet                         `json:"completed_stages"`
}

// ActiveAgent looks up an active agent by name
func (s Snapshot) ActiveAgent(name string) (Agent, bool) {
	for _, a := range s.ActiveAgents {
		if a.Name == name {
			return a, true
		}
	}
	return Agent{}, false
}

// HasActivity reports whether an activity with the given derived id is stored
func (s Snapshot) HasActivity(id string) bool {
	for _, a := range s.Activities {
		if a.ID == id {
			return true
		}
	}
	return false
}

// AgentTypeOf resolves the type of a named agent from whatever the snapshot knows about it
func (s Snapshot) AgentTypeOf(name string) (AgentType, bool) {
	if a, ok := s.ActiveAgent(name); ok && a.Type != "" {
		return a.Type, true
	}
	if c, ok := s.Completed[name]; ok && c.Type != "" {
		return c.Type, true
	}
	if t, ok := s.Thinking[name]; ok && t.AgentType != "" {
		return t.AgentType, true
	}
	for i := len(s.Activities) - 1; i >= 0; i-- {
		if s.Activities[i].AgentName == name && s.Activities[i].AgentType != "" {
			return s.Activities[i].AgentType, true
		}
	}
	return "", false
}

// ActivityCleared reports whether every field reset by a clear is empty
func (s Snapshot) ActivityCleared() bool {
	return len(s.Activities) == 0 &&
		len(s.Thinking) == 0 &&
		len(s.Completed) == 0 &&
		len(s.DebateMessages) == 0 &&
		s.DebatePhase == nil &&
		len(s.Scenarios) == 0
}
