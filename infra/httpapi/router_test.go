package httpapi

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

	"github.com/kilianp07/arrivalcast/core/divergence"
	"github.com/kilianp07/arrivalcast/core/history"
	"github.com/kilianp07/arrivalcast/core/model"
)

type memStore struct {
	events []model.DivergenceEvent
	last   divergence.Query
}

func (m *memStore) Append(_ context.Context, ev model.DivergenceEvent) error {
	m.events = append(m.events, ev)
	return nil
}

func (m *memStore) Query(_ context.Context, q divergence.Query) ([]model.DivergenceEvent, error) {
	m.last = q
	var res []model.DivergenceEvent
	for _, ev := range m.events {
		if q.Match(ev) {
			res = append(res, ev)
		}
	}
	return res, nil
}

func (m *memStore) Close() error { return nil }

type staticStats Stats

func (s staticStats) Stats() Stats { return Stats(s) }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func serve(h http.Handler, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestDivergencesAuthAndFilters(t *testing.T) {
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	store := &memStore{}
	_ = store.Append(context.Background(), model.DivergenceEvent{ID: "a", VehicleID: "v1", Timestamp: ts})
	_ = store.Append(context.Background(), model.DivergenceEvent{ID: "b", VehicleID: "v2", Timestamp: ts})
	h := NewRouter(Deps{Divergences: store, Token: "tok"})

	rr := serve(h, http.MethodGet, "/api/divergences", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(h, http.MethodGet, "/api/divergences?vehicle_id=v1&start=2024-05-01T00:00:00Z&limit=5", "tok")
	require.Equal(t, http.StatusOK, rr.Code)
	var got []model.DivergenceEvent
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, 5, store.last.Limit)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), store.last.Start.UTC())
}

func TestDivergencesBadParams(t *testing.T) {
	h := NewRouter(Deps{Divergences: &memStore{}})
	for _, target := range []string{
		"/api/divergences?start=yesterday",
		"/api/divergences?end=2024-13-01",
		"/api/divergences?limit=-1",
	} {
		rr := serve(h, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
	}
}

func TestCacheStats(t *testing.T) {
	src := staticStats{Cache: history.Stats{TripBuckets: 3, StopBuckets: 2, TripEvents: 9}, ErrorValues: 4, DwellModels: 1}
	h := NewRouter(Deps{Stats: src})
	rr := serve(h, http.MethodGet, "/api/cache/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got Stats
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, Stats(src), got)
}

func TestHealth(t *testing.T) {
	rr := serve(NewRouter(Deps{}), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = serve(NewRouter(Deps{Store: pinger{}}), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "connected")

	rr = serve(NewRouter(Deps{Store: pinger{err: errors.New("down")}}), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	rr := serve(NewRouter(Deps{Metrics: metrics}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())

	rr = serve(NewRouter(Deps{}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := NewRouter(Deps{Divergences: &memStore{}, AllowedOrigins: []string{"http://localhost:5173"}})
	req := httptest.NewRequest(http.MethodOptions, "/api/divergences", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "http://localhost:5173", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestServerStopsOnCancel(t *testing.T) {
	srv := NewServer("127.0.0.1:0", NewRouter(Deps{}), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}
