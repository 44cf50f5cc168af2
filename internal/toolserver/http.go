package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

// httpBackend POSTs call envelopes to a remote server.
type httpBackend struct {
	url     string
	headers map[string]string
	client  *http.Client
	health  *healthTracker
}

func newHTTPBackend(def types.ServerDefinition, client *http.Client, onChange func(Health)) *httpBackend {
	if client == nil {
		client = &http.Client{}
	}
	return &httpBackend{
		url:     def.URL,
		headers: def.Headers,
		client:  client,
		health:  newHealthTracker(StateRunning, onChange),
	}
}

func (b *httpBackend) Call(ctx context.Context, env types.CallEnvelope) (types.ResultEnvelope, error) {
	res, err := b.post(ctx, env)
	if err != nil {
		if ctx.Err() != nil {
			return types.ResultEnvelope{}, ctx.Err()
		}
		b.health.set(StateUnhealthy, err)
		return types.ResultEnvelope{}, err
	}
	b.health.set(StateRunning, nil)
	return res, nil
}

func (b *httpBackend) post(ctx context.Context, env types.CallEnvelope) (types.ResultEnvelope, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return types.ResultEnvelope{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return types.ResultEnvelope{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range b.headers {
		req.Header.Set(k, v)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return types.ResultEnvelope{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return types.ResultEnvelope{}, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, bytes.TrimSpace(bodyBytes))
	}

	var result types.ResultEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return types.ResultEnvelope{}, fmt.Errorf("invalid result envelope: %w", err)
	}
	if result.CallID != env.CallID {
		return types.ResultEnvelope{}, fmt.Errorf("result call_id %q does not match %q", result.CallID, env.CallID)
	}
	return result, nil
}

func (b *httpBackend) Health() Health { return b.health.get() }

func (b *httpBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}
