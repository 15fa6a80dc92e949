package server_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"MarginMirror/internal/chain"
	"MarginMirror/internal/core"
	"MarginMirror/internal/observability"
	"MarginMirror/internal/query"
	"MarginMirror/internal/server"
	"MarginMirror/internal/state"
	"MarginMirror/internal/testutil"
)

type staticLister []chain.KeyedData

func (l staticLister) GroupAccounts(context.Context, solana.PublicKey, solana.PublicKey) ([]chain.KeyedData, error) {
	return l, nil
}

func newTestServer(t *testing.T) (*server.Server, *core.Scanner, *observability.HealthChecker) {
	t.Helper()
	f, a := testutil.SingleDeposit()
	fetcher := testutil.NewMemFetcher()
	fetcher.Put(t, f.Group)
	fetcher.Put(t, f.Cache)
	fetcher.Put(t, a)

	b, err := a.Encode()
	require.NoError(t, err)
	scanner := core.NewScanner(core.ScannerConfig{Group: f.Group.Address}, fetcher,
		staticLister{{Address: a.Address, Data: b}}, zerolog.Nop(), nil).
		WithClock(func() time.Time { return time.Unix(5, 0) })

	reg := prometheus.NewRegistry()
	checker := observability.NewHealthChecker(0)
	qs := query.NewQueryService(fetcher, f.Group.Address, scanner, nil, nil)
	srv := server.NewServer(server.Addrs{}, qs, checker, reg, observability.NewMetrics(reg), zerolog.Nop())
	return srv, scanner, checker
}

func get(t *testing.T, ts *httptest.Server, path string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHTTP_Routes(t *testing.T) {
	srv, scanner, _ := newTestServer(t)
	h, err := srv.Handler()
	require.NoError(t, err)
	ts := httptest.NewServer(h)
	defer ts.Close()

	code, _ := get(t, ts, "/v1/scan")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	_, err = scanner.ScanOnce(context.Background())
	require.NoError(t, err)

	account := testutil.Key(50).String()
	code, body := get(t, ts, "/v1/accounts/"+account+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "scan", body["source"])
	assert.Equal(t, "Healthy", body["status"])
	assert.Equal(t, account, body["account"])

	code, body = get(t, ts, "/v1/accounts/"+account+"/health?live=true")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "live", body["source"])

	code, body = get(t, ts, "/v1/scan")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["sequence"])

	code, _ = get(t, ts, "/v1/candidates")
	assert.Equal(t, http.StatusOK, code)
}

func TestHTTP_Errors(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h, err := srv.Handler()
	require.NoError(t, err)
	ts := httptest.NewServer(h)
	defer ts.Close()

	tests := []struct {
		path string
		want int
	}{
		{"/v1/accounts/not-a-key/health", http.StatusBadRequest},
		{"/v1/accounts/" + testutil.Key(77).String() + "/health", http.StatusNotFound},
		{"/v1/accounts/" + testutil.Key(50).String() + "/history", http.StatusNotImplemented},
		{"/v1/accounts/" + testutil.Key(50).String() + "/history?limit=x", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			code, body := get(t, ts, tt.path)
			assert.Equal(t, tt.want, code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestHTTP_Probes(t *testing.T) {
	srv, _, checker := newTestServer(t)
	h, err := srv.Handler()
	require.NoError(t, err)
	ts := httptest.NewServer(h)
	defer ts.Close()

	code, _ := get(t, ts, "/healthz")
	assert.Equal(t, http.StatusOK, code)

	code, _ = get(t, ts, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	checker.SetReady(true)
	code, _ = get(t, ts, "/readyz")
	assert.Equal(t, http.StatusOK, code)
}

func TestGRPC_HealthFollowsReadiness(t *testing.T) {
	srv, _, checker := newTestServer(t)
	checker.SetReady(true)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.ServeGRPC(ctx, lis) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	require.Eventually(t, func() bool {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: server.ServiceName})
		return err == nil && resp.Status == healthpb.HealthCheckResponse_SERVING
	}, 5*time.Second, 50*time.Millisecond)

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

var _ state.Fetcher = (*testutil.MemFetcher)(nil)
