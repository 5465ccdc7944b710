package link

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kwv/ndtscan/ndt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoScans = `[{"odom":{"x":1,"y":0,"theta":0},"points":[{"x":1,"y":0}]},{"cloud":[[1,0,0.5]]}]`

func TestParseScans(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    int
		wantErr string
	}{
		{name: "array", data: twoScans, want: 2},
		{name: "single", data: `{"points":[{"x":1,"y":0}]}`, want: 1},
		{name: "lines", data: "{\"points\":[{\"x\":1,\"y\":0}]}\n{\"points\":[{\"x\":2,\"y\":0}]}\n", want: 2},
		{name: "blank", data: " \n\t", wantErr: "no scans"},
		{name: "empty array", data: "[]", wantErr: "no scans"},
		{name: "bad array", data: "[{", wantErr: "parsing scans"},
		{name: "bad line", data: "{\"points\":[]}\n{oops", wantErr: "parsing scans"},
		{name: "invalid scan", data: `[{"points":[{"x":1,"y":0}]},{}]`, wantErr: "scan 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scans, err := ParseScans([]byte(tt.data))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, scans, tt.want)
		})
	}
}

func TestFetchScansSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(twoScans))
	}))
	defer srv.Close()

	scans, err := FetchScans(context.Background(), srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	require.Len(t, scans, 2)
	assert.Equal(t, ndt.Pose{X: 1}, scans[0].Odom)
	assert.True(t, scans[1].IsCloud())
}

func TestFetchScansEmptyURL(t *testing.T) {
	_, err := FetchScans(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "URL is empty")
}

func TestFetchScansRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(twoScans))
	}))
	defer srv.Close()

	scans, err := FetchScans(context.Background(), srv.URL,
		WithHTTPClient(srv.Client()),
		WithMaxRetries(3),
		WithBaseBackoff(time.Millisecond),
	)
	require.NoError(t, err)
	assert.Len(t, scans, 2)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestFetchScansAllAttemptsFail(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := FetchScans(context.Background(), srv.URL,
		WithHTTPClient(srv.Client()),
		WithMaxRetries(2),
		WithBaseBackoff(time.Millisecond),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 attempts failed")
	assert.Contains(t, err.Error(), "status 502")
	assert.Equal(t, int32(2), attempts.Load())
}

func TestFetchScansParseErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		_, _ = w.Write([]byte("[not json"))
	}))
	defer srv.Close()

	_, err := FetchScans(context.Background(), srv.URL,
		WithHTTPClient(srv.Client()),
		WithMaxRetries(3),
		WithBaseBackoff(time.Millisecond),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing scans")
	assert.Equal(t, int32(1), attempts.Load())
}

func TestFetchScansContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FetchScans(ctx, srv.URL,
		WithHTTPClient(srv.Client()),
		WithMaxRetries(5),
		WithBaseBackoff(time.Hour),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchScansTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := FetchScans(context.Background(), srv.URL,
		WithTimeout(50*time.Millisecond),
		WithMaxRetries(1),
	)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFetchScansTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(twoScans))
	}))
	defer srv.Close()

	scans, err := FetchScans(context.Background(), srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	assert.Len(t, scans, 2)
}

func TestFetchOptions(t *testing.T) {
	cfg := defaultFetchConfig()
	assert.Equal(t, DefaultFetchTimeout, cfg.timeout)
	assert.Equal(t, DefaultMaxRetries, cfg.maxRetries)
	assert.Nil(t, cfg.client)

	client := &http.Client{}
	for _, opt := range []FetchOption{
		WithTimeout(time.Second),
		WithMaxRetries(7),
		WithBaseBackoff(2 * time.Second),
		WithHTTPClient(client),
	} {
		opt(&cfg)
	}
	assert.Equal(t, time.Second, cfg.timeout)
	assert.Equal(t, 7, cfg.maxRetries)
	assert.Equal(t, 2*time.Second, cfg.baseBackoff)
	assert.Same(t, client, cfg.client)
}
