package api

import (
	"github.com/shopspring/decimal"

	"riskstream/internal/domain/activity"
)

// Holding is one position in a portfolio
type Holding struct {
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`
	Weight       decimal.Decimal `json:"weight"`
	TargetWeight decimal.Decimal `json:"target_weight"`
}

// Portfolio is a tracked client portfolio
type Portfolio struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	TotalValue decimal.Decimal `json:"total_value"`
	Holdings   []Holding       `json:"holdings,omitempty"`
}

// MarketEvent asks the pipeline to analyze a portfolio against a market move
type MarketEvent struct {
	PortfolioID string                 `json:"portfolio_id"`
	EventType   string                 `json:"event_type"`
	Description string                 `json:"description,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

// InjectResult acknowledges an injected event
type InjectResult struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

// ChainVerification is the audit backend's verdict on the hash chain
type ChainVerification struct {
	Valid         bool   `json:"valid"`
	BlocksChecked int    `json:"blocks_checked"`
	FirstInvalid  string `json:"first_invalid,omitempty"`
}

type scenarioList struct {
	Scenarios []activity.Scenario `json:"scenarios"`
}

type blockList struct {
	Blocks []activity.MerkleBlock `json:"blocks"`
}

type approvalResponse struct {
	ScenarioID   string `json:"scenario_id"`
	ApprovalHash string `json:"approval_hash"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}
