package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"riskstream/internal/adapters/api"
	"riskstream/internal/adapters/approvals"
	"riskstream/internal/domain/activity"
	"riskstream/internal/events"
	"riskstream/internal/store"
	"riskstream/pkg/errors"
	"riskstream/pkg/logger"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) ListScenarios(ctx context.Context, portfolioID string) ([]activity.Scenario, error) {
	args := m.Called(ctx, portfolioID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]activity.Scenario), args.Error(1)
}

func (m *mockBackend) ApproveScenario(ctx context.Context, scenarioID string) (string, error) {
	args := m.Called(ctx, scenarioID)
	return args.String(0), args.Error(1)
}

func (m *mockBackend) InjectMarketEvent(ctx context.Context, event api.MarketEvent) (*api.InjectResult, error) {
	args := m.Called(ctx, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*api.InjectResult), args.Error(1)
}

func (m *mockBackend) ListAuditBlocks(ctx context.Context, limit int) ([]activity.MerkleBlock, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]activity.MerkleBlock), args.Error(1)
}

func setup(t *testing.T) (*Service, *mockBackend, *store.Store) {
	t.Helper()
	backend := new(mockBackend)
	st := store.New(store.DefaultConfig(), logger.Nop())
	t.Cleanup(st.Close)
	cache := approvals.NewFileStore(filepath.Join(t.TempDir(), "storage.json"), logger.Nop())
	return NewService(backend, st, cache, logger.Nop()), backend, st
}

func TestSelectPortfolio_LoadsScenarios(t *testing.T) {
	svc, backend, st := setup(t)
	ctx := context.Background()

	backend.On("ListScenarios", ctx, "p1").Return([]activity.Scenario{{ID: "s1"}, {ID: "s2"}}, nil).Once()

	require.NoError(t, svc.SelectPortfolio(ctx, "p1"))

	snap := st.Snapshot()
	assert.Equal(t, "p1", snap.SelectedPortfolio)
	assert.Len(t, snap.Scenarios, 2)
	backend.AssertExpectations(t)
}

func TestSelectPortfolio_SwitchClearsRun(t *testing.T) {
	svc, backend, st := setup(t)
	ctx := context.Background()

	backend.On("ListScenarios", ctx, "p1").Return([]activity.Scenario{}, nil)
	backend.On("ListScenarios", ctx, "p2").Return([]activity.Scenario{}, nil)

	require.NoError(t, svc.SelectPortfolio(ctx, "p1"))
	st.RecordActivity(events.AgentActivity{AgentName: "DriftAgent", AgentType: activity.AgentTypeDrift, Status: activity.StatusAnalyzing, Message: "go"})
	require.Len(t, st.Snapshot().Activities, 1)

	require.NoError(t, svc.SelectPortfolio(ctx, "p2"))
	assert.True(t, st.Snapshot().ActivityCleared())
}

func TestSelectPortfolio_RequiresID(t *testing.T) {
	svc, _, _ := setup(t)

	err := svc.SelectPortfolio(context.Background(), "")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestSelectPortfolio_ScenarioErrorReturned(t *testing.T) {
	svc, backend, st := setup(t)
	ctx := context.Background()

	backend.On("ListScenarios", ctx, "p1").Return(nil, errors.ErrUnavailable)

	err := svc.SelectPortfolio(ctx, "p1")
	assert.True(t, errors.Is(err, errors.ErrUnavailable))
	assert.Equal(t, "p1", st.Snapshot().SelectedPortfolio)
}

func TestStartAnalysis_ClearsThenInjects(t *testing.T) {
	svc, backend, st := setup(t)
	ctx := context.Background()

	backend.On("ListScenarios", ctx, "p1").Return([]activity.Scenario{{ID: "old"}}, nil)
	require.NoError(t, svc.SelectPortfolio(ctx, "p1"))
	require.Len(t, st.Snapshot().Scenarios, 1)

	backend.On("InjectMarketEvent", ctx, api.MarketEvent{PortfolioID: "p1", EventType: "rate_hike"}).
		Run(func(mock.Arguments) {
			// the run is already cleared when the event reaches the backend
			assert.True(t, st.Snapshot().ActivityCleared())
		}).
		Return(&api.InjectResult{EventID: "e1", Status: "queued"}, nil).Once()

	res, err := svc.StartAnalysis(ctx, api.MarketEvent{EventType: "rate_hike"})
	require.NoError(t, err)
	assert.Equal(t, "e1", res.EventID)
	backend.AssertExpectations(t)
}

func TestStartAnalysis_Validation(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	_, err := svc.StartAnalysis(ctx, api.MarketEvent{EventType: "rate_hike"})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = svc.StartAnalysis(ctx, api.MarketEvent{PortfolioID: "p1"})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestLoadAuditTail_SkipsKnownBlocks(t *testing.T) {
	svc, backend, st := setup(t)
	ctx := context.Background()

	st.AppendMerkleBlock(activity.MerkleBlock{BlockHash: "h1"})
	backend.On("ListAuditBlocks", ctx, AuditTailLimit).
		Return([]activity.MerkleBlock{{BlockHash: "h1"}, {BlockHash: "h2"}, {BlockHash: "h3"}}, nil)

	require.NoError(t, svc.LoadAuditTail(ctx))

	blocks := st.Snapshot().MerkleBlocks
	require.Len(t, blocks, 3)
	assert.Equal(t, "h3", blocks[2].BlockHash)
}

func TestApprove_CachesApproval(t *testing.T) {
	svc, backend, _ := setup(t)
	ctx := context.Background()
	fixed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	backend.On("ApproveScenario", ctx, "s1").Return("0xabc", nil).Once()

	record, err := svc.Approve(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", record.ApprovalHash)
	assert.True(t, fixed.Equal(record.ApprovedAt))

	cached := svc.Approvals(ctx)
	require.Contains(t, cached, "s1")
	assert.Equal(t, "0xabc", cached["s1"].ApprovalHash)
}

func TestApprove_BackendFailureCachesNothing(t *testing.T) {
	svc, backend, _ := setup(t)
	ctx := context.Background()

	backend.On("ApproveScenario", ctx, "s1").Return("", errors.ErrUnavailable)

	_, err := svc.Approve(ctx, "s1")
	assert.True(t, errors.Is(err, errors.ErrUnavailable))
	assert.Empty(t, svc.Approvals(ctx))
}
