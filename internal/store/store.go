// Package store holds the canonical activity state of one pipeline run.
//
// All mutations are serialized through a single goroutine that owns the state.
// Each accepted mutation publishes a new immutable snapshot with a higher version;
// readers get the latest published snapshot without blocking writers.
package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"riskstream/internal/domain/activity"
	"riskstream/internal/events"
	"riskstream/internal/metrics"
	"riskstream/internal/timeline"
	"riskstream/pkg/logger"
)

// Config bounds the buffers kept by the store
type Config struct {
	ActivityLimit       int
	ThoughtLimit        int
	MerkleLimit         int
	ThinkingDedupWindow time.Duration

	// Now is the clock used for thinking dedup and completion times. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the standard limits
func DefaultConfig() Config {
	return Config{
		ActivityLimit:       50,
		ThoughtLimit:        5,
		MerkleLimit:         50,
		ThinkingDedupWindow: 500 * time.Millisecond,
		Now:                 time.Now,
	}
}

type mutation func(cur activity.Snapshot, now time.Time) (activity.Snapshot, bool)

type command struct {
	op     string
	apply  mutation
	result chan bool
}

// Store is the single owner of the activity state
type Store struct {
	lim    limits
	now    func() time.Time
	logger *logger.Logger

	cmds    chan command
	current atomic.Pointer[activity.Snapshot]

	subsMu  sync.Mutex
	subs    map[uint64]chan activity.Snapshot
	nextSub uint64
	closed  bool // guarded by subsMu; no subscription is registered once set

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a store and starts its owner goroutine. Call Close to stop it.
func New(cfg Config, log *logger.Logger) *Store {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logger.Get()
	}

	s := &Store{
		lim: limits{
			activities:  cfg.ActivityLimit,
			thoughts:    cfg.ThoughtLimit,
			merkle:      cfg.MerkleLimit,
			dedupWindow: cfg.ThinkingDedupWindow,
		},
		now:    cfg.Now,
		logger: log.Component("store"),
		cmds:   make(chan command),
		subs:   make(map[uint64]chan activity.Snapshot),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	initial := emptySnapshot()
	s.current.Store(&initial)

	go s.run()
	return s
}

// Close stops the owner goroutine and closes all subscription channels.
// Mutations after Close are ignored.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
}

func (s *Store) run() {
	defer func() {
		s.subsMu.Lock()
		s.closed = true
		for id, ch := range s.subs {
			close(ch)
			delete(s.subs, id)
		}
		s.subsMu.Unlock()
		close(s.done)
	}()

	for {
		select {
		case <-s.stop:
			return
		case cmd := <-s.cmds:
			cmd.result <- s.apply(cmd)
		}
	}
}

func (s *Store) apply(cmd command) bool {
	cur := *s.current.Load()

	next, ok := cmd.apply(cur, s.now())
	metrics.RecordMutation(cmd.op, ok)
	if !ok {
		return false
	}

	next.CompletedStages |= timeline.CompletedSet(timeline.RawStages(next))
	next.Version = cur.Version + 1
	s.current.Store(&next)

	if next.CompletedStages != cur.CompletedStages {
		s.logger.Debugw("Stage completion mark advanced",
			"version", next.Version,
			"mark", next.CompletedStages,
		)
	}

	s.publish(next)
	return true
}

// mutate hands the mutation to the owner goroutine and waits for the result
func (s *Store) mutate(op string, fn mutation) bool {
	cmd := command{op: op, apply: fn, result: make(chan bool, 1)}

	select {
	case s.cmds <- cmd:
	case <-s.done:
		return false
	}
	return <-cmd.result
}

// Snapshot returns the latest published state
func (s *Store) Snapshot() activity.Snapshot {
	return *s.current.Load()
}

// Subscribe returns a channel receiving snapshots after every accepted mutation,
// starting with the current one. Slow readers only see the latest snapshot.
// The channel is closed when ctx is done or the store is closed.
func (s *Store) Subscribe(ctx context.Context) <-chan activity.Snapshot {
	ch := make(chan activity.Snapshot, 1)

	s.subsMu.Lock()
	if s.closed {
		s.subsMu.Unlock()
		close(ch)
		return ch
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- *s.current.Load()
	s.subsMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
			return
		}
		s.subsMu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
		s.subsMu.Unlock()
	}()

	return ch
}

func (s *Store) publish(snap activity.Snapshot) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for _, ch := range s.subs {
		// latest wins: replace whatever the reader has not consumed yet
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// SetConnected records the transport state
func (s *Store) SetConnected(connected bool) bool {
	return s.mutate("set_connected", func(cur activity.Snapshot, _ time.Time) (activity.Snapshot, bool) {
		return reduceConnected(cur, connected)
	})
}

// RecordActivity stores an activity and updates agent membership.
// Returns false for a duplicate.
func (s *Store) RecordActivity(ev events.AgentActivity) bool {
	act := ev.ToActivity()
	return s.mutate("record_activity", func(cur activity.Snapshot, now time.Time) (activity.Snapshot, bool) {
		next, evicted, ok := reduceActivity(cur, act, s.lim, now)
		if !ok {
			s.logger.Debugw("Activity skipped",
				"agent", agentKey(act),
				"status", act.Status,
				"id", act.ID,
			)
		}
		metrics.RecordEviction("activities", evicted)
		return next, ok
	})
}

// RecordThinking applies a reasoning fragment or end marker
func (s *Store) RecordThinking(ev events.Thinking) bool {
	return s.mutate("record_thinking", func(cur activity.Snapshot, now time.Time) (activity.Snapshot, bool) {
		return reduceThinking(cur, ev, s.lim, now)
	})
}

// AppendDebateMessage appends to the debate log
func (s *Store) AppendDebateMessage(msg activity.DebateMessage) bool {
	return s.mutate("append_debate_message", func(cur activity.Snapshot, _ time.Time) (activity.Snapshot, bool) {
		return reduceDebateMessage(cur, msg)
	})
}

// AppendMerkleBlock appends to the bounded audit tail
func (s *Store) AppendMerkleBlock(block activity.MerkleBlock) bool {
	return s.mutate("append_merkle_block", func(cur activity.Snapshot, _ time.Time) (activity.Snapshot, bool) {
		next, evicted, ok := reduceMerkleBlock(cur, block, s.lim)
		metrics.RecordEviction("merkle_blocks", evicted)
		return next, ok
	})
}

// ReplaceScenarios swaps the whole scenario list
func (s *Store) ReplaceScenarios(scenarios []activity.Scenario) bool {
	return s.mutate("replace_scenarios", func(cur activity.Snapshot, _ time.Time) (activity.Snapshot, bool) {
		return reduceScenarios(cur, scenarios)
	})
}

// SetDebatePhase records the current debate phase
func (s *Store) SetDebatePhase(phase activity.DebatePhase) bool {
	return s.mutate("set_debate_phase", func(cur activity.Snapshot, _ time.Time) (activity.Snapshot, bool) {
		return reducePhase(cur, phase)
	})
}

// SelectPortfolio switches the tracked portfolio, clearing the run state when it changes
func (s *Store) SelectPortfolio(portfolioID string) bool {
	return s.mutate("select_portfolio", func(cur activity.Snapshot, _ time.Time) (activity.Snapshot, bool) {
		return reduceSelect(cur, portfolioID)
	})
}

// Clear resets the run state ahead of a new analysis
func (s *Store) Clear() bool {
	return s.mutate("clear", func(cur activity.Snapshot, _ time.Time) (activity.Snapshot, bool) {
		return reduceClear(cur)
	})
}
