// Package target adapts a remote detection endpoint to the PurpleAgent
// contract: attacks are POSTed over HTTP with rate limiting, retries,
// and a per-call deadline, and the response is classified by a content
// oracle.
package target

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// attackRequest is the wire form of one detection call.
type attackRequest struct {
	AttackID  string `json:"attack_id"`
	Scenario  string `json:"scenario"`
	Technique string `json:"technique"`
	Payload   string `json:"payload"`
}

// RemoteAgent is a purple agent reachable over HTTP.
type RemoteAgent struct {
	name    string
	cfg     types.TargetConfig
	client  *http.Client
	limiter *rate.Limiter
	retrier *retrier
	oracle  *ContentOracle
	logger  *zap.Logger
}

// NewRemoteAgent builds a remote purple agent from target config.
func NewRemoteAgent(name string, cfg types.TargetConfig, logger *zap.Logger) (*RemoteAgent, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("target URL is required")
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !cfg.VerifySSL,
			MinVersion:         tls.VersionTLS12,
		},
	}
	if cfg.UseHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			return nil, fmt.Errorf("configuring http2: %w", err)
		}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)+1)
	}

	return &RemoteAgent{
		name: name,
		cfg:  cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		limiter: limiter,
		retrier: newRetrier(cfg.Retry),
		oracle:  NewContentOracle(),
		logger:  logger.With(zap.String("target", name)),
	}, nil
}

// Detect submits one attack to the detection endpoint. Protocol
// failures surface as errors so the caller records an invalid result
// instead of a detection outcome.
func (r *RemoteAgent) Detect(ctx context.Context, attack *types.Attack) (*types.TestResult, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	payload, err := json.Marshal(attackRequest{
		AttackID:  attack.AttackID,
		Scenario:  attack.Scenario,
		Technique: attack.Technique,
		Payload:   attack.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding attack: %w", err)
	}

	resp, err := r.retrier.do(callCtx, func() (*response, error) {
		return r.post(callCtx, payload)
	})
	if err != nil {
		return nil, err
	}

	verdict, err := r.oracle.Classify(resp.statusCode, resp.body)
	if err != nil {
		return nil, err
	}

	result := types.NewTestResult(attack, r.name, verdict.Detected, verdict.Confidence)
	result.DetectionReason = verdict.Reason
	return result, nil
}

// Name returns the configured target name.
func (r *RemoteAgent) Name() string { return r.name }

// Reset drops idle connections; the remote endpoint owns its own state.
func (r *RemoteAgent) Reset() {
	r.client.CloseIdleConnections()
}

func (r *RemoteAgent) post(ctx context.Context, body []byte) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, r.cfg.Method, r.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range r.cfg.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	httpResp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	r.logger.Debug("detection call",
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("latency", time.Since(start)))
	return &response{statusCode: httpResp.StatusCode, body: respBody}, nil
}
