package events

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"riskstream/internal/domain/activity"
	"riskstream/pkg/errors"
)

// Kind is the wire type of an inbound stream message
type Kind string

const (
	KindAgentActivity    Kind = "agent_activity"
	KindThinking         Kind = "thinking"
	KindDebateMessage    Kind = "debate_message"
	KindMerkleBlock      Kind = "merkle_block"
	KindScenarios        Kind = "scenarios"
	KindDebatePhase      Kind = "debate_phase"
	KindConnection       Kind = "connection"
	KindScenarioApproved Kind = "scenario_approved"
	KindWhatIfResult     Kind = "what_if_result"
	KindDebateConsensus  Kind = "debate_consensus"
)

// Kinds lists every recognized kind
func Kinds() []Kind {
	return []Kind{
		KindAgentActivity,
		KindThinking,
		KindDebateMessage,
		KindMerkleBlock,
		KindScenarios,
		KindDebatePhase,
		KindConnection,
		KindScenarioApproved,
		KindWhatIfResult,
		KindDebateConsensus,
	}
}

// Envelope is the message wrapper used in both directions
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEnvelope encodes data under the given type
func NewEnvelope(kind string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode envelope data")
	}
	return json.Marshal(Envelope{Type: kind, Data: raw})
}

// Decode parses one inbound frame into its event variant.
// Frames that are not a valid envelope, or whose data does not fit the kind, fail with
// ErrMalformedFrame. Envelopes with an unrecognized type fail with ErrUnknownEventKind.
func Decode(frame []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, errors.Wrap(errors.ErrMalformedFrame, err.Error())
	}
	if env.Type == "" {
		return nil, errors.Wrap(errors.ErrMalformedFrame, "missing type")
	}

	switch Kind(env.Type) {
	case KindAgentActivity:
		var e AgentActivity
		if err := decodeData(env, &e); err != nil {
			return nil, err
		}
		if e.AgentName == "" && e.AgentType == "" {
			return nil, errors.Wrap(errors.ErrMalformedFrame, "agent_activity without agent")
		}
		return e, nil

	case KindThinking:
		var e Thinking
		if err := decodeData(env, &e); err != nil {
			return nil, err
		}
		if e.AgentName == "" {
			return nil, errors.Wrap(errors.ErrMalformedFrame, "thinking without agent_name")
		}
		return e, nil

	case KindDebateMessage:
		var e DebateMessage
		if err := decodeData(env, &e.DebateMessage); err != nil {
			return nil, err
		}
		e.Confidence = clampConfidence(e.Confidence)
		return e, nil

	case KindMerkleBlock:
		var e MerkleBlock
		if err := decodeData(env, &e.MerkleBlock); err != nil {
			return nil, err
		}
		if e.BlockHash == "" {
			return nil, errors.Wrap(errors.ErrMalformedFrame, "merkle_block without block_hash")
		}
		return e, nil

	case KindScenarios:
		scenarios, err := decodeScenarios(env.Data)
		if err != nil {
			return nil, err
		}
		return Scenarios{Scenarios: scenarios}, nil

	case KindDebatePhase:
		var e DebatePhase
		if err := decodeData(env, &e); err != nil {
			return nil, err
		}
		if e.Question == "" {
			e.Question = e.Topic
		}
		if e.Phase == "" {
			return nil, errors.Wrap(errors.ErrMalformedFrame, "debate_phase without phase")
		}
		return e, nil

	case KindConnection:
		var e Connection
		if err := decodeData(env, &e); err != nil {
			return nil, err
		}
		return e, nil

	case KindScenarioApproved:
		var e ScenarioApproved
		if err := decodeData(env, &e); err != nil {
			return nil, err
		}
		return e, nil

	case KindWhatIfResult:
		return WhatIfResult{Raw: env.Data}, nil

	case KindDebateConsensus:
		var e DebateConsensus
		if err := decodeData(env, &e); err != nil {
			return nil, err
		}
		e.Confidence = clampConfidence(e.Confidence)
		return e, nil
	}

	return nil, errors.Wrapf(errors.ErrUnknownEventKind, "type %q", env.Type)
}

func decodeData(env Envelope, dest interface{}) error {
	if len(env.Data) == 0 || bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return errors.Wrapf(errors.ErrMalformedFrame, "%s data: %v", env.Type, err)
	}
	return nil
}

// decodeScenarios accepts either a bare array or {"scenarios": [...]}
func decodeScenarios(data json.RawMessage) ([]activity.Scenario, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []activity.Scenario{}, nil
	}

	var scenarios []activity.Scenario
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &scenarios); err != nil {
			return nil, errors.Wrapf(errors.ErrMalformedFrame, "scenarios data: %v", err)
		}
	} else {
		var wrapped struct {
			Scenarios []activity.Scenario `json:"scenarios"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, errors.Wrapf(errors.ErrMalformedFrame, "scenarios data: %v", err)
		}
		scenarios = wrapped.Scenarios
	}

	if scenarios == nil {
		scenarios = []activity.Scenario{}
	}
	return scenarios, nil
}

func clampConfidence(c float64) float64 {
	if math.IsNaN(c) {
		return 0
	}
	return math.Max(0, math.Min(100, c))
}

// text picks the thought text of a thinking chunk
func text(chunk, content string) string {
	if t := strings.TrimSpace(chunk); t != "" {
		return t
	}
	return strings.TrimSpace(content)
}
