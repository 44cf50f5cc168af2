package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

type flakyAdapter struct {
	failures int32
	kind     ErrorKind
	calls    int32
}

func (f *flakyAdapter) Vendor() string                { return "fake" }
func (f *flakyAdapter) Model() string                 { return "m" }
func (f *flakyAdapter) Info() ModelInfo               { return ModelInfo{} }
func (f *flakyAdapter) Encode(*Request) ([]byte, error) { return nil, nil }

func (f *flakyAdapter) Complete(ctx context.Context, req *Request) (*Response, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failures {
		return nil, &Error{Kind: f.kind, Vendor: "fake", Model: "m", Err: errors.New("transient")}
	}
	return &Response{Message: types.NewTextMessage(types.RoleAssistant, "ok")}, nil
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
}

func TestWithRetry_RetriesTransientFailures(t *testing.T) {
	inner := &flakyAdapter{failures: 2, kind: KindRateLimit}
	resp, err := WithRetry(inner, fastRetry()).Complete(context.Background(), &Request{})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message.Text())
	assert.Equal(t, int32(3), atomic.LoadInt32(&inner.calls))
}

func TestWithRetry_PermanentFailuresReturnAtOnce(t *testing.T) {
	inner := &flakyAdapter{failures: 5, kind: KindAuth}
	_, err := WithRetry(inner, fastRetry()).Complete(context.Background(), &Request{})

	assert.True(t, IsKind(err, KindAuth))
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.calls))
}

func TestWithRetry_GivesUpAfterMaxRetries(t *testing.T) {
	inner := &flakyAdapter{failures: 100, kind: KindNetwork}
	_, err := WithRetry(inner, fastRetry()).Complete(context.Background(), &Request{})

	assert.True(t, IsKind(err, KindNetwork))
	assert.Equal(t, int32(4), atomic.LoadInt32(&inner.calls))
}

func TestWithRetry_StopsOnCancel(t *testing.T) {
	inner := &flakyAdapter{failures: 100, kind: KindRateLimit}
	cfg := RetryConfig{MaxRetries: 10, InitialInterval: time.Second, MaxInterval: time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := WithRetry(inner, cfg).Complete(ctx, &Request{})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestWithRetry_ZeroDisables(t *testing.T) {
	inner := &flakyAdapter{}
	assert.Same(t, Adapter(inner), WithRetry(inner, RetryConfig{}))
}
