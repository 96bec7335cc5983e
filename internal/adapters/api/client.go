// Package api is the client for the pipeline's REST API
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"riskstream/internal/adapters/config"
	"riskstream/internal/domain/activity"
	"riskstream/internal/metrics"
	"riskstream/pkg/errors"
	"riskstream/pkg/logger"
)

// Client talks to the pipeline REST API
type Client struct {
	client *resty.Client
	log    *logger.Logger
}

// NewClient creates a REST client for the configured base URL
func NewClient(cfg config.APIConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Get()
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("Accept", "application/json")

	return &Client{
		client: client,
		log:    log.Component("api_client"),
	}
}

// ListPortfolios returns every portfolio known to the backend
func (c *Client) ListPortfolios(ctx context.Context) ([]Portfolio, error) {
	var out []Portfolio
	err := c.do(ctx, "list_portfolios", func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(&out).Get("/portfolios")
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetPortfolio returns one portfolio
func (c *Client) GetPortfolio(ctx context.Context, portfolioID string) (*Portfolio, error) {
	var out Portfolio
	err := c.do(ctx, "get_portfolio", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", portfolioID).SetResult(&out).Get("/portfolios/{id}")
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListScenarios returns the ranked scenarios for a portfolio
func (c *Client) ListScenarios(ctx context.Context, portfolioID string) ([]activity.Scenario, error) {
	var out scenarioList
	err := c.do(ctx, "list_scenarios", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", portfolioID).SetResult(&out).Get("/portfolios/{id}/scenarios")
	})
	if err != nil {
		return nil, err
	}
	if out.Scenarios == nil {
		return []activity.Scenario{}, nil
	}
	return out.Scenarios, nil
}

// ApproveScenario approves a scenario and returns the audit hash of the approval
func (c *Client) ApproveScenario(ctx context.Context, scenarioID string) (string, error) {
	var out approvalResponse
	err := c.do(ctx, "approve_scenario", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", scenarioID).SetResult(&out).Post("/scenarios/{id}/approve")
	})
	if err != nil {
		return "", err
	}
	if out.ApprovalHash == "" {
		return "", errors.Wrapf(errors.ErrInternal, "approval of %s returned no hash", scenarioID)
	}
	return out.ApprovalHash, nil
}

// InjectMarketEvent starts an analysis run
func (c *Client) InjectMarketEvent(ctx context.Context, event MarketEvent) (*InjectResult, error) {
	var out InjectResult
	err := c.do(ctx, "inject_event", func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(event).SetResult(&out).Post("/events/inject")
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAuditBlocks returns the most recent audit-chain blocks, oldest first
func (c *Client) ListAuditBlocks(ctx context.Context, limit int) ([]activity.MerkleBlock, error) {
	var out blockList
	err := c.do(ctx, "list_audit_blocks", func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParam("limit", strconv.Itoa(limit)).SetResult(&out).Get("/audit/blocks")
	})
	if err != nil {
		return nil, err
	}
	return out.Blocks, nil
}

// VerifyAuditChain asks the backend to verify the audit hash chain
func (c *Client) VerifyAuditChain(ctx context.Context) (*ChainVerification, error) {
	var out ChainVerification
	err := c.do(ctx, "verify_audit_chain", func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(&out).Get("/audit/verify")
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// do runs one request, maps failures to domain errors and records the call
func (c *Client) do(ctx context.Context, endpoint string, send func(*resty.Request) (*resty.Response, error)) error {
	start := time.Now()
	var apiErr errorResponse

	resp, err := send(c.client.R().SetContext(ctx).SetError(&apiErr))
	if err == nil {
		err = statusError(endpoint, resp, apiErr)
	} else {
		err = errors.Wrapf(errors.ErrUnavailable, "%s: %v", endpoint, err)
	}

	metrics.RecordAPICall(endpoint, time.Since(start), err)
	if err != nil {
		c.log.Warnw("API call failed", "endpoint", endpoint, "error", err)
	}
	return err
}

func statusError(endpoint string, resp *resty.Response, apiErr errorResponse) error {
	if !resp.IsError() {
		return nil
	}

	detail := apiErr.Detail
	if detail == "" {
		detail = resp.Status()
	}

	cause := errors.ErrUnavailable
	switch resp.StatusCode() {
	case http.StatusNotFound:
		cause = errors.ErrNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		cause = errors.ErrInvalidInput
	default:
		detail = fmt.Sprintf("%d %s", resp.StatusCode(), detail)
	}
	return errors.NewDomainError(endpoint, detail, cause)
}
