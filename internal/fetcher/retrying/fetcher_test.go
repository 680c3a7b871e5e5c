package retrying

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/akarpov/tender-harvester/internal/crawler"
	collyfetcher "github.com/akarpov/tender-harvester/internal/fetcher/colly"
)

type flakyFetcher struct {
	failures int
	calls    int
}

func (f *flakyFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.calls++
	if f.calls <= f.failures {
		return crawler.FetchResponse{}, errors.New("503 service unavailable")
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte("ok")}, nil
}

func TestFetcher_RecoversWithinAttemptBudget(t *testing.T) {
	t.Parallel()

	inner := &flakyFetcher{failures: 2}
	f := New(inner, crawler.NewFixedRetryPolicy(3, time.Millisecond), zap.NewNop())

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://rostender.info/extsearch"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 3, inner.calls)
}

func TestFetcher_TerminalFailureAfterAllAttempts(t *testing.T) {
	t.Parallel()

	inner := &flakyFetcher{failures: 10}
	f := New(inner, crawler.NewFixedRetryPolicy(3, time.Millisecond), zap.NewNop())

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://rostender.info/extsearch"})
	require.Error(t, err)
	require.Equal(t, 3, inner.calls)
}

func TestFetcher_TransientHTTPFailureRecovers(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "temporarily overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("<html>listing</html>"))
	}))
	defer srv.Close()

	inner := collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second})
	f := New(inner, crawler.NewFixedRetryPolicy(3, 10*time.Millisecond), zap.NewNop())

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/extsearch"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<html>listing</html>", string(resp.Body))
	require.Equal(t, int32(2), hits.Load())
}

func TestFetcher_NoRetryOnSuccess(t *testing.T) {
	t.Parallel()

	inner := &flakyFetcher{}
	f := New(inner, crawler.NewFixedRetryPolicy(3, time.Minute), zap.NewNop())

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://rostender.info/tender/1"})
	require.NoError(t, err)
	require.Equal(t, 1, inner.calls)
}
