// Package chain adapts the on-chain status-effect oracle to the router's
// EffectSource interface. Raw parameter blobs are decoded into typed effect
// parameters here, at the boundary; nothing downstream sees encoded bytes.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/game/effect"
)

// RawEffect is one effect entry as reported by the oracle, parameters still
// encoded.
type RawEffect struct {
	Kind       string          `json:"kind"`
	Target     string          `json:"target"`
	Instigator string          `json:"instigator"`
	ExpiresAt  int64           `json:"expiresAt"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// Client is the narrow oracle surface the arena consumes. The chain client
// behind it is external; this package never speaks contract ABI.
type Client interface {
	// ActiveEffects lists the raw effects attached to one address.
	ActiveEffects(ctx context.Context, address string) ([]RawEffect, error)
	// Timestamp returns the chain's monotonic logical clock.
	Timestamp(ctx context.Context) (int64, error)
}

// Oracle decodes raw oracle responses into typed StatusEffects and implements
// the router's EffectSource.
type Oracle struct {
	client Client
	logger *zap.Logger
}

// NewOracle creates an Oracle over the given client.
//
// Precondition: client and logger must be non-nil.
func NewOracle(client Client, logger *zap.Logger) *Oracle {
	return &Oracle{client: client, logger: logger}
}

// CurrentTimestamp reads the chain's logical clock once. Every expiry
// comparison within one message-processing operation uses this value.
func (o *Oracle) CurrentTimestamp(ctx context.Context) (int64, error) {
	ts, err := o.client.Timestamp(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading chain timestamp: %w", err)
	}
	return ts, nil
}

// ParticipantEffects fetches and decodes the effect list for one address.
// An entry whose parameters fail to decode is carried without them: the
// engine treats it as inert for mutation but still reports it.
func (o *Oracle) ParticipantEffects(ctx context.Context, address string) ([]effect.StatusEffect, error) {
	raw, err := o.client.ActiveEffects(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("fetching effects for %s: %w", address, err)
	}

	effects := make([]effect.StatusEffect, 0, len(raw))
	for _, r := range raw {
		e := effect.StatusEffect{
			Kind:       effect.Kind(r.Kind),
			Target:     r.Target,
			Instigator: r.Instigator,
			ExpiresAt:  r.ExpiresAt,
		}
		if err := e.DecodeParameters(r.Parameters); err != nil {
			o.logger.Warn("dropping undecodable effect parameters",
				zap.String("kind", r.Kind),
				zap.String("target", r.Target),
				zap.Error(err),
			)
		}
		effects = append(effects, e)
	}
	return effects, nil
}

// HTTPClient is a thin JSON client for an oracle sidecar endpoint.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates an HTTPClient from chain configuration.
//
// Precondition: cfg must be validated.
func NewHTTPClient(cfg config.ChainConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.OracleURL,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// ActiveEffects fetches GET {base}/effects?address=... and decodes the JSON
// array of raw effects.
func (c *HTTPClient) ActiveEffects(ctx context.Context, address string) ([]RawEffect, error) {
	u := fmt.Sprintf("%s/effects?address=%s", c.baseURL, url.QueryEscape(address))
	var out []RawEffect
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Timestamp fetches GET {base}/timestamp.
func (c *HTTPClient) Timestamp(ctx context.Context) (int64, error) {
	var out struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/timestamp", &out); err != nil {
		return 0, err
	}
	return out.Timestamp, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building oracle request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling oracle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("oracle returned %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding oracle response: %w", err)
	}
	return nil
}
