package session

import (
	"context"
	"time"

	"riskstream/internal/adapters/api"
	"riskstream/internal/adapters/approvals"
	"riskstream/internal/domain/activity"
	"riskstream/pkg/errors"
	"riskstream/pkg/logger"
)

// AuditTailLimit is how many audit blocks are fetched to seed the tail
const AuditTailLimit = 50

// Backend is the REST surface the session drives
type Backend interface {
	ListScenarios(ctx context.Context, portfolioID string) ([]activity.Scenario, error)
	ApproveScenario(ctx context.Context, scenarioID string) (string, error)
	InjectMarketEvent(ctx context.Context, event api.MarketEvent) (*api.InjectResult, error)
	ListAuditBlocks(ctx context.Context, limit int) ([]activity.MerkleBlock, error)
}

// StateStore is the part of the activity store the session mutates
type StateStore interface {
	Snapshot() activity.Snapshot
	SelectPortfolio(portfolioID string) bool
	Clear() bool
	ReplaceScenarios(scenarios []activity.Scenario) bool
	AppendMerkleBlock(block activity.MerkleBlock) bool
}

// Service coordinates user actions across the REST API, the activity store and the
// approval cache
type Service struct {
	backend   Backend
	store     StateStore
	approvals approvals.Store
	now       func() time.Time
	log       *logger.Logger
}

// NewService creates a session service
func NewService(backend Backend, store StateStore, approvalStore approvals.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Get()
	}
	return &Service{
		backend:   backend,
		store:     store,
		approvals: approvalStore,
		now:       time.Now,
		log:       log.Component("session"),
	}
}

// SelectPortfolio switches to a portfolio and loads its scenarios. Switching to a
// different portfolio clears the previous run.
func (s *Service) SelectPortfolio(ctx context.Context, portfolioID string) error {
	if portfolioID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "portfolio id is required")
	}

	if s.store.SelectPortfolio(portfolioID) {
		s.log.Infow("Portfolio selected", "portfolio_id", portfolioID)
	}
	return s.RefreshScenarios(ctx)
}

// StartAnalysis clears the current run and injects a market event for the selected portfolio
func (s *Service) StartAnalysis(ctx context.Context, event api.MarketEvent) (*api.InjectResult, error) {
	if event.PortfolioID == "" {
		event.PortfolioID = s.store.Snapshot().SelectedPortfolio
	}
	if event.PortfolioID == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "no portfolio selected")
	}
	if event.EventType == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "event type is required")
	}

	s.store.Clear()

	res, err := s.backend.InjectMarketEvent(ctx, event)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start analysis")
	}

	s.log.Infow("Analysis started",
		"portfolio_id", event.PortfolioID,
		"event_type", event.EventType,
		"event_id", res.EventID,
	)
	return res, nil
}

// RefreshScenarios reloads the selected portfolio's scenarios into the store
func (s *Service) RefreshScenarios(ctx context.Context) error {
	portfolioID := s.store.Snapshot().SelectedPortfolio
	if portfolioID == "" {
		return nil
	}

	scenarios, err := s.backend.ListScenarios(ctx, portfolioID)
	if err != nil {
		return errors.Wrapf(err, "failed to load scenarios for %s", portfolioID)
	}

	// the selection may have changed while the request was in flight
	if s.store.Snapshot().SelectedPortfolio != portfolioID {
		return nil
	}
	s.store.ReplaceScenarios(scenarios)
	return nil
}

// LoadAuditTail seeds the audit tail with the most recent blocks
func (s *Service) LoadAuditTail(ctx context.Context) error {
	blocks, err := s.backend.ListAuditBlocks(ctx, AuditTailLimit)
	if err != nil {
		return errors.Wrap(err, "failed to load audit blocks")
	}

	known := make(map[string]struct{}, len(blocks))
	for _, b := range s.store.Snapshot().MerkleBlocks {
		known[b.BlockHash] = struct{}{}
	}
	for _, b := range blocks {
		if _, ok := known[b.BlockHash]; ok {
			continue
		}
		s.store.AppendMerkleBlock(b)
	}
	return nil
}

// Approve approves a scenario and caches the approval locally.
// A cache failure does not fail the approval.
func (s *Service) Approve(ctx context.Context, scenarioID string) (approvals.Record, error) {
	if scenarioID == "" {
		return approvals.Record{}, errors.Wrap(errors.ErrInvalidInput, "scenario id is required")
	}

	hash, err := s.backend.ApproveScenario(ctx, scenarioID)
	if err != nil {
		return approvals.Record{}, errors.Wrapf(err, "failed to approve scenario %s", scenarioID)
	}

	records := approvals.Remember(ctx, s.approvals, scenarioID, hash, s.now())
	s.log.Infow("Scenario approved", "scenario_id", scenarioID, "approval_hash", hash)
	return records[scenarioID], nil
}

// Approvals returns the cached approvals
func (s *Service) Approvals(ctx context.Context) approvals.Records {
	return s.approvals.Load(ctx)
}
