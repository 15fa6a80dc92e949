package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"

	"MarginMirror/internal/query"
	"MarginMirror/internal/state"
)

// Handler builds the HTTP surface: the query routes on a gateway mux, with
// the probes in front of it.
func (s *Server) Handler() (http.Handler, error) {
	gw := runtime.NewServeMux()

	routes := []struct {
		path     string
		endpoint string
		h        func(w http.ResponseWriter, r *http.Request, params map[string]string) (interface{}, error)
	}{
		{"/v1/accounts/{address}/health", "account_health", s.accountHealth},
		{"/v1/accounts/{address}/history", "account_history", s.accountHistory},
		{"/v1/scan", "scan_status", func(http.ResponseWriter, *http.Request, map[string]string) (interface{}, error) {
			return s.qs.ScanStatus()
		}},
		{"/v1/candidates", "candidates", func(http.ResponseWriter, *http.Request, map[string]string) (interface{}, error) {
			return s.qs.Candidates()
		}},
	}
	for _, rt := range routes {
		if err := gw.HandlePath(http.MethodGet, rt.path, s.instrument(rt.endpoint, rt.h)); err != nil {
			return nil, err
		}
	}

	mux := http.NewServeMux()
	if s.checker != nil {
		mux.HandleFunc("/healthz", s.checker.LivenessHandler)
		mux.HandleFunc("/readyz", s.checker.ReadinessHandler)
	}
	mux.Handle("/", gw)
	return mux, nil
}

func (s *Server) instrument(
	endpoint string,
	h func(w http.ResponseWriter, r *http.Request, params map[string]string) (interface{}, error),
) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		body, err := h(w, r, params)
		code := http.StatusOK
		if err != nil {
			code = runtime.HTTPStatusFromCode(codeOf(err))
			body = map[string]string{"error": err.Error()}
			if code >= http.StatusInternalServerError {
				s.log.Error().Err(err).Str("endpoint", endpoint).Msg("query failed")
			}
		}
		writeJSON(w, code, body)

		if s.metrics != nil {
			s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
			s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

var errBadRequest = errors.New("bad request")

// codeOf classifies query errors the way a gRPC service would report them.
func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, query.ErrWrongGroup):
		return codes.InvalidArgument
	case errors.Is(err, state.ErrAccountMissing), errors.Is(err, state.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, query.ErrNoScan):
		return codes.Unavailable
	case errors.Is(err, query.ErrNoArchive):
		return codes.Unimplemented
	default:
		return codes.Internal
	}
}

func parseAddress(params map[string]string) (solana.PublicKey, error) {
	addr, err := solana.PublicKeyFromBase58(params["address"])
	if err != nil {
		return solana.PublicKey{}, errors.Join(errBadRequest, err)
	}
	return addr, nil
}

func (s *Server) accountHealth(_ http.ResponseWriter, r *http.Request, params map[string]string) (interface{}, error) {
	addr, err := parseAddress(params)
	if err != nil {
		return nil, err
	}
	live, _ := strconv.ParseBool(r.URL.Query().Get("live"))
	return s.qs.AccountHealth(r.Context(), addr, live)
}

func (s *Server) accountHistory(_ http.ResponseWriter, r *http.Request, params map[string]string) (interface{}, error) {
	addr, err := parseAddress(params)
	if err != nil {
		return nil, err
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return nil, errors.Join(errBadRequest, err)
		}
	}
	return s.qs.AccountHistory(r.Context(), addr, limit)
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
