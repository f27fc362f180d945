package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/game/effect"
)

type stubClient struct {
	effects map[string][]RawEffect
	effErr  error
	ts      int64
	tsErr   error
}

func (s *stubClient) ActiveEffects(_ context.Context, address string) ([]RawEffect, error) {
	if s.effErr != nil {
		return nil, s.effErr
	}
	return s.effects[address], nil
}

func (s *stubClient) Timestamp(context.Context) (int64, error) {
	return s.ts, s.tsErr
}

func TestParticipantEffects_DecodesPoisonParameters(t *testing.T) {
	client := &stubClient{effects: map[string][]RawEffect{
		"0xa": {{
			Kind:       "POISON",
			Target:     "0xa",
			Instigator: "0xrival",
			ExpiresAt:  500,
			Parameters: json.RawMessage(`{"find":"Bitcoin","replace":"PEPE"}`),
		}},
	}}

	o := NewOracle(client, zap.NewNop())
	effects, err := o.ParticipantEffects(context.Background(), "0xa")
	require.NoError(t, err)
	require.Len(t, effects, 1)

	assert.Equal(t, effect.KindPoison, effects[0].Kind)
	require.NotNil(t, effects[0].Poison)
	assert.Equal(t, "Bitcoin", effects[0].Poison.Find)
	assert.Equal(t, "PEPE", effects[0].Poison.Replace)
}

func TestParticipantEffects_UndecodableParametersCarriedInert(t *testing.T) {
	client := &stubClient{effects: map[string][]RawEffect{
		"0xa": {{Kind: "POISON", Target: "0xa", ExpiresAt: 500, Parameters: json.RawMessage(`"%%%"`)}},
	}}

	o := NewOracle(client, zap.NewNop())
	effects, err := o.ParticipantEffects(context.Background(), "0xa")
	require.NoError(t, err)
	require.Len(t, effects, 1)
	assert.Nil(t, effects[0].Poison)
}

func TestParticipantEffects_LookupError(t *testing.T) {
	o := NewOracle(&stubClient{effErr: errors.New("rpc down")}, zap.NewNop())
	_, err := o.ParticipantEffects(context.Background(), "0xa")
	assert.Error(t, err)
}

func TestCurrentTimestamp(t *testing.T) {
	o := NewOracle(&stubClient{ts: 12345}, zap.NewNop())
	ts, err := o.CurrentTimestamp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12345), ts)

	o = NewOracle(&stubClient{tsErr: errors.New("rpc down")}, zap.NewNop())
	_, err = o.CurrentTimestamp(context.Background())
	assert.Error(t, err)
}

func TestHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/effects":
			assert.Equal(t, "0xa b", r.URL.Query().Get("address"))
			_, _ = w.Write([]byte(`[{"kind":"SILENCE","target":"0xa b","expiresAt":900}]`))
		case "/timestamp":
			_, _ = w.Write([]byte(`{"timestamp":777}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewHTTPClient(config.ChainConfig{OracleURL: srv.URL, RequestTimeout: 2 * time.Second})

	raw, err := client.ActiveEffects(context.Background(), "0xa b")
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.Equal(t, "SILENCE", raw[0].Kind)
	assert.Equal(t, int64(900), raw[0].ExpiresAt)

	ts, err := client.Timestamp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(777), ts)
}

func TestHTTPClient_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "oracle offline", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewHTTPClient(config.ChainConfig{OracleURL: srv.URL, RequestTimeout: 2 * time.Second})

	_, err := client.ActiveEffects(context.Background(), "0xa")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
