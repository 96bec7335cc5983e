// Package dispatcher routes decoded stream events to the activity store
package dispatcher

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"riskstream/internal/domain/activity"
	"riskstream/internal/events"
	"riskstream/internal/metrics"
	"riskstream/pkg/errors"
	"riskstream/pkg/logger"
)

// StateStore is the set of store mutations the dispatcher drives
type StateStore interface {
	SetConnected(connected bool) bool
	RecordActivity(ev events.AgentActivity) bool
	RecordThinking(ev events.Thinking) bool
	AppendDebateMessage(msg activity.DebateMessage) bool
	AppendMerkleBlock(block activity.MerkleBlock) bool
	ReplaceScenarios(scenarios []activity.Scenario) bool
	SetDebatePhase(phase activity.DebatePhase) bool
}

// Tap receives every successfully decoded frame, e.g. to journal it.
// Implementations must not block.
type Tap interface {
	Tap(kind events.Kind, frame []byte)
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithTap attaches a frame tap
func WithTap(tap Tap) Option {
	return func(d *Dispatcher) {
		d.tap = tap
	}
}

// Dispatcher implements the transport's frame handler
type Dispatcher struct {
	store  StateStore
	tap    Tap
	logger *logger.Logger

	// unknown kinds are logged, but not once per frame
	unknownLog rate.Sometimes
}

// New creates a dispatcher over the given store
func New(store StateStore, log *logger.Logger, opts ...Option) *Dispatcher {
	if log == nil {
		log = logger.Get()
	}
	d := &Dispatcher{
		store:      store,
		logger:     log.Component("dispatcher"),
		unknownLog: rate.Sometimes{First: 3, Interval: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandleFrame decodes one inbound frame and applies it. Malformed or unknown frames are
// logged and dropped; nothing here stops the stream.
func (d *Dispatcher) HandleFrame(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordFrame("unknown", metrics.OutcomeMalformed)
			d.logger.Errorf("Panic while handling frame: %v", r)
		}
	}()

	ev, err := events.Decode(frame)
	switch {
	case errors.Is(err, errors.ErrUnknownEventKind):
		metrics.RecordFrame("other", metrics.OutcomeUnknown)
		d.unknownLog.Do(func() {
			d.logger.Infow("Ignoring unknown event kind", "error", err)
		})
		return
	case err != nil:
		metrics.RecordFrame("unknown", metrics.OutcomeMalformed)
		d.logger.Warnw("Dropping malformed frame",
			"error", err,
			"size", len(frame),
		)
		return
	}

	if d.tap != nil {
		d.tap.Tap(ev.Kind(), frame)
	}

	outcome := metrics.OutcomeNoop
	if d.Dispatch(ev) {
		outcome = metrics.OutcomeApplied
	}
	metrics.RecordFrame(string(ev.Kind()), outcome)
}

// Dispatch applies a decoded event to the store and reports whether the state changed
func (d *Dispatcher) Dispatch(ev events.Event) bool {
	switch e := ev.(type) {
	case events.AgentActivity:
		return d.store.RecordActivity(e)

	case events.Thinking:
		return d.store.RecordThinking(e)

	case events.DebateMessage:
		return d.store.AppendDebateMessage(e.DebateMessage)

	case events.MerkleBlock:
		return d.store.AppendMerkleBlock(e.MerkleBlock)

	case events.Scenarios:
		return d.store.ReplaceScenarios(e.Scenarios)

	case events.DebatePhase:
		return d.store.SetDebatePhase(e.ToPhase())

	case events.Connection:
		d.logger.Debugw("Server connection notice", "status", e.Status, "message", e.Message)
		return false

	case events.ScenarioApproved:
		d.logger.Debugw("Scenario approved upstream", "scenario_id", e.ScenarioID)
		return false

	case events.WhatIfResult:
		d.logger.Debugw("What-if result received", "size", len(e.Raw))
		return false

	case events.DebateConsensus:
		d.logger.Debugw("Debate consensus reached",
			"decision", e.Decision,
			"confidence", e.Confidence,
		)
		return false

	default:
		panic(fmt.Sprintf("dispatcher: unhandled event kind %q", ev.Kind()))
	}
}

// OnConnectionChange records the transport state in the store
func (d *Dispatcher) OnConnectionChange(connected bool) {
	d.store.SetConnected(connected)
	metrics.RecordConnection(connected)
	d.logger.Infow("Stream connection changed", "connected", connected)
}
