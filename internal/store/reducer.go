package store

import (
	"time"

	"riskstream/internal/domain/activity"
	"riskstream/internal/events"
)

// limits bounds the buffers kept in a snapshot
type limits struct {
	activities  int
	thoughts    int
	merkle      int
	dedupWindow time.Duration
}

// Reducers below never modify cur or anything reachable from it. Every changed
// slice or map is rebuilt, unchanged ones are shared with the previous snapshot.

func emptySnapshot() activity.Snapshot {
	return activity.Snapshot{
		ActiveAgents:   []activity.Agent{},
		Activities:     []activity.ActivityEvent{},
		Thinking:       map[string]activity.ThinkingState{},
		Completed:      map[string]activity.CompletedAgentSummary{},
		DebateMessages: []activity.DebateMessage{},
		MerkleBlocks:   []activity.MerkleBlock{},
		Scenarios:      []activity.Scenario{},
	}
}

// agentKey identifies an agent by name, falling back to its type
func agentKey(ev activity.ActivityEvent) string {
	if ev.AgentName != "" {
		return ev.AgentName
	}
	return string(ev.AgentType)
}

// reduceActivity records one activity and updates the active/completed membership.
// A repeated id is rejected entirely. It returns the number of evicted activities.
func reduceActivity(cur activity.Snapshot, ev activity.ActivityEvent, lim limits, now time.Time) (activity.Snapshot, int, bool) {
	key := agentKey(ev)
	if key == "" || cur.HasActivity(ev.ID) {
		return cur, 0, false
	}

	next := cur
	var evicted int
	next.Activities, evicted = appendBounded(cur.Activities, ev, lim.activities)

	agentType := ev.AgentType
	if agentType == "" {
		agentType, _ = cur.AgentTypeOf(key)
	}

	switch {
	case ev.Status.IsActive():
		next.ActiveAgents = upsertAgent(cur.ActiveAgents, activity.Agent{Name: key, Type: agentType, Status: ev.Status})
		if _, ok := cur.Completed[key]; ok {
			next.Completed = cloneMap(cur.Completed)
			delete(next.Completed, key)
		}

	case ev.Status.IsTerminal():
		next.ActiveAgents = removeAgent(cur.ActiveAgents, key)
		if ev.Status != activity.StatusComplete {
			break
		}

		thinking := cur.Thinking[key]
		next.Completed = cloneMap(cur.Completed)
		next.Completed[key] = activity.CompletedAgentSummary{
			Name:        key,
			Type:        agentType,
			Summary:     ev.Message,
			Thoughts:    append([]string(nil), thinking.Thoughts...),
			CompletedAt: now,
		}
		if _, ok := cur.Thinking[key]; ok {
			next.Thinking = cloneMap(cur.Thinking)
			delete(next.Thinking, key)
		}
	}

	return next, evicted, true
}

// reduceThinking applies one reasoning fragment or the end-of-stream marker
func reduceThinking(cur activity.Snapshot, ev events.Thinking, lim limits, now time.Time) (activity.Snapshot, bool) {
	name := ev.AgentName
	if name == "" {
		return cur, false
	}

	if ev.IsComplete {
		if _, ok := cur.Thinking[name]; !ok {
			return cur, false
		}
		next := cur
		next.Thinking = cloneMap(cur.Thinking)
		delete(next.Thinking, name)
		return next, true
	}

	text := ev.Text()
	if text == "" {
		return cur, false
	}
	// late fragments for an agent that already completed
	if _, done := cur.Completed[name]; done {
		return cur, false
	}

	existing, ok := cur.Thinking[name]
	if ok && existing.CurrentThought == text && now.Sub(existing.LastUpdateTime) < lim.dedupWindow {
		return cur, false
	}

	agentType := ev.AgentType
	if agentType == "" {
		agentType = existing.AgentType
	}
	if agentType == "" {
		agentType, _ = cur.AgentTypeOf(name)
	}

	thoughts, _ := appendBounded(existing.Thoughts, text, lim.thoughts)

	next := cur
	next.Thinking = cloneMap(cur.Thinking)
	next.Thinking[name] = activity.ThinkingState{
		AgentName:      name,
		AgentType:      agentType,
		CurrentThought: text,
		LastUpdateTime: now,
		Thoughts:       thoughts,
	}
	return next, true
}

func reduceDebateMessage(cur activity.Snapshot, msg activity.DebateMessage) (activity.Snapshot, bool) {
	next := cur
	next.DebateMessages = append(cur.DebateMessages[:len(cur.DebateMessages):len(cur.DebateMessages)], msg)
	return next, true
}

func reduceMerkleBlock(cur activity.Snapshot, block activity.MerkleBlock, lim limits) (activity.Snapshot, int, bool) {
	next := cur
	var evicted int
	next.MerkleBlocks, evicted = appendBounded(cur.MerkleBlocks, block, lim.merkle)
	return next, evicted, true
}

func reduceScenarios(cur activity.Snapshot, scenarios []activity.Scenario) (activity.Snapshot, bool) {
	next := cur
	next.Scenarios = make([]activity.Scenario, len(scenarios))
	copy(next.Scenarios, scenarios)
	return next, true
}

func reducePhase(cur activity.Snapshot, phase activity.DebatePhase) (activity.Snapshot, bool) {
	if cur.DebatePhase != nil && *cur.DebatePhase == phase {
		return cur, false
	}
	next := cur
	next.DebatePhase = &phase
	return next, true
}

func reduceConnected(cur activity.Snapshot, connected bool) (activity.Snapshot, bool) {
	if cur.Connected == connected {
		return cur, false
	}
	next := cur
	next.Connected = connected
	return next, true
}

// reduceClear drops everything belonging to the current run.
// Connection state, the selected portfolio and the audit tail survive.
func reduceClear(cur activity.Snapshot) (activity.Snapshot, bool) {
	next := emptySnapshot()
	next.Version = cur.Version
	next.Connected = cur.Connected
	next.SelectedPortfolio = cur.SelectedPortfolio
	next.MerkleBlocks = cur.MerkleBlocks
	return next, true
}

func reduceSelect(cur activity.Snapshot, portfolioID string) (activity.Snapshot, bool) {
	if cur.SelectedPortfolio == portfolioID {
		return cur, false
	}
	next, _ := reduceClear(cur)
	next.SelectedPortfolio = portfolioID
	return next, true
}

// appendBounded returns a new slice holding s plus v, dropping the oldest entries
// beyond limit. A non-positive limit means unbounded.
func appendBounded[T any](s []T, v T, limit int) ([]T, int) {
	evicted := 0
	if limit > 0 && len(s) >= limit {
		evicted = len(s) - limit + 1
		s = s[evicted:]
	}
	out := make([]T, 0, len(s)+1)
	out = append(out, s...)
	out = append(out, v)
	return out, evicted
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func upsertAgent(agents []activity.Agent, agent activity.Agent) []activity.Agent {
	out := make([]activity.Agent, 0, len(agents)+1)
	replaced := false
	for _, a := range agents {
		if a.Name == agent.Name {
			out = append(out, agent)
			replaced = true
			continue
		}
		out = append(out, a)
	}
	if !replaced {
		out = append(out, agent)
	}
	return out
}

func removeAgent(agents []activity.Agent, name string) []activity.Agent {
	out := make([]activity.Agent, 0, len(agents))
	for _, a := range agents {
		if a.Name != name {
			out = append(out, a)
		}
	}
	return out
}
