// Package timeline derives the coarse four-stage pipeline view from a snapshot.
// Everything here is a pure function of the snapshot it is given.
package timeline

import (
	"sort"

	"riskstream/internal/domain/activity"
)

// Status of a stage or of an agent within a stage
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// AgentStatus is the progress of one domain agent inside the analysis stage
type AgentStatus struct {
	Type          activity.AgentType `json:"type"`
	Name          string             `json:"name,omitempty"`
	Status        Status             `json:"status"`
	LatestThought string             `json:"latest_thought,omitempty"`
}

// Stage is one step of the pipeline timeline
type Stage struct {
	ID          activity.StageID `json:"id"`
	Label       string           `json:"label"`
	Description string           `json:"description"`
	Status      Status           `json:"status"`
	Agents      []AgentStatus    `json:"agents,omitempty"`
	Timestamp   string           `json:"timestamp,omitempty"`
}

// DeriveStages returns the four stages in pipeline order. A stage recorded in the
// snapshot's completion mark is always reported complete, so a stage never moves
// backwards within a run.
func DeriveStages(snap activity.Snapshot) []Stage {
	stages := RawStages(snap)
	for i := range stages {
		if snap.CompletedStages.Has(stages[i].ID) {
			stages[i].Status = StatusComplete
		}
	}
	return stages
}

// RawStages computes the stages from the snapshot contents alone, ignoring the mark
func RawStages(snap activity.Snapshot) []Stage {
	return []Stage{
		received(snap),
		analysis(snap),
		consensus(snap),
		recommendation(snap),
	}
}

// CompletedSet collects the ids of the complete stages
func CompletedSet(stages []Stage) activity.StageSet {
	var set activity.StageSet
	for _, s := range stages {
		if s.Status == StatusComplete {
			set = set.With(s.ID)
		}
	}
	return set
}

func received(snap activity.Snapshot) Stage {
	st := Stage{
		ID:          activity.StageReceived,
		Label:       "Received",
		Description: "Portfolio event received",
		Status:      StatusPending,
	}

	for _, a := range snap.Activities {
		if a.AgentType == activity.AgentTypeGateway {
			st.Status = StatusComplete
			st.Timestamp = a.Timestamp
			return st
		}
	}
	if len(snap.Activities) > 0 {
		st.Status = StatusComplete
		st.Timestamp = snap.Activities[0].Timestamp
	}
	return st
}

func analysis(snap activity.Snapshot) Stage {
	st := Stage{
		ID:          activity.StageAnalysis,
		Label:       "Analysis",
		Description: "Drift, tax and compliance agents review the portfolio",
		Status:      StatusPending,
	}

	allComplete := true
	inProgress := len(snap.Thinking) > 0 || len(snap.ActiveAgents) > 0
	anyError := false

	for _, t := range activity.DomainAgentTypes {
		as, ts := domainAgentStatus(snap, t)
		st.Agents = append(st.Agents, as)

		switch as.Status {
		case StatusComplete:
			if ts != "" {
				st.Timestamp = ts
			}
		case StatusActive:
			inProgress = true
		case StatusError:
			anyError = true
		}
		if as.Status != StatusComplete {
			allComplete = false
		}
	}

	for _, a := range snap.Activities {
		if a.AgentType.IsDomain() {
			inProgress = true
			break
		}
	}

	switch {
	case allComplete:
		st.Status = StatusComplete
	case inProgress:
		st.Status = StatusActive
		st.Timestamp = ""
	case anyError:
		st.Status = StatusError
		st.Timestamp = ""
	default:
		st.Timestamp = ""
	}
	return st
}

// domainAgentStatus resolves one agent's sub-status: complete beats in-progress, which
// beats error, which beats pending. It also returns the completion timestamp, if any.
func domainAgentStatus(snap activity.Snapshot, t activity.AgentType) (AgentStatus, string) {
	as := AgentStatus{Type: t, Status: StatusPending}

	var (
		complete   bool
		inProgress bool
		failed     bool
		completeTS string
		lastStatus activity.AgentStatus
	)

	for _, name := range sortedKeys(snap.Completed) {
		c := snap.Completed[name]
		if c.Type != t {
			continue
		}
		complete = true
		as.Name = c.Name
		if len(c.Thoughts) > 0 {
			as.LatestThought = c.Thoughts[len(c.Thoughts)-1]
		}
	}

	for _, a := range snap.Activities {
		if a.AgentType != t {
			continue
		}
		if as.Name == "" {
			as.Name = a.AgentName
		}
		lastStatus = a.Status
		if a.Status == activity.StatusComplete {
			complete = true
			completeTS = a.Timestamp
		}
	}
	switch {
	case lastStatus.IsActive():
		inProgress = true
	case lastStatus == activity.StatusError:
		failed = true
	}

	for _, a := range snap.ActiveAgents {
		if a.Type == t {
			inProgress = true
			as.Name = a.Name
		}
	}

	for _, name := range sortedKeys(snap.Thinking) {
		th := snap.Thinking[name]
		thinkingType := th.AgentType
		if thinkingType == "" {
			thinkingType, _ = snap.AgentTypeOf(name)
		}
		if thinkingType != t {
			continue
		}
		inProgress = true
		as.Name = name
		if thought := th.LatestThought(); thought != "" {
			as.LatestThought = thought
		}
	}

	switch {
	case complete:
		as.Status = StatusComplete
	case inProgress:
		as.Status = StatusActive
	case failed:
		as.Status = StatusError
	}
	return as, completeTS
}

func consensus(snap activity.Snapshot) Stage {
	st := Stage{
		ID:          activity.StageConsensus,
		Label:       "Consensus",
		Description: "Agents debate trade-offs and converge",
		Status:      StatusPending,
	}

	if n := len(snap.DebateMessages); n > 0 {
		st.Timestamp = snap.DebateMessages[n-1].Timestamp
	}

	switch {
	case snap.DebatePhase != nil && snap.DebatePhase.Phase == activity.PhaseConsensus:
		st.Status = StatusComplete
	case snap.DebatePhase != nil || len(snap.DebateMessages) > 0:
		st.Status = StatusActive
	}
	return st
}

func recommendation(snap activity.Snapshot) Stage {
	st := Stage{
		ID:          activity.StageRecommendation,
		Label:       "Recommendation",
		Description: "Scenarios ranked and ready for approval",
		Status:      StatusPending,
	}

	for _, a := range snap.Activities {
		if a.AgentType == activity.AgentTypeCoordinator && a.Status == activity.StatusComplete {
			st.Status = StatusComplete
			st.Timestamp = a.Timestamp
			return st
		}
	}
	if len(snap.Scenarios) > 0 {
		st.Status = StatusComplete
	}
	return st
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
