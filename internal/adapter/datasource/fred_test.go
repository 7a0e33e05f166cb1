package datasource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newFREDTestClient(t *testing.T, handler http.HandlerFunc) *FREDClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := testConfig()
	cfg.FREDAPIKey = "test-key"
	cfg.FREDBaseURL = srv.URL
	return NewFREDClient(cfg, nil, nil)
}

func TestFRED_Indicators(t *testing.T) {
	f := newFREDTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fred/series/observations", r.URL.Path)
		require.Equal(t, "test-key", r.URL.Query().Get("api_key"))
		switch r.URL.Query().Get("series_id") {
		case "GDP":
			_, _ = w.Write([]byte(`{"observations":[
				{"date":"2025-04-01","value":"29000.1"},
				{"date":"2025-01-01","value":"."},
				{"date":"2024-10-01","value":"28500.9"}]}`))
		case "UNRATE":
			_, _ = w.Write([]byte(`{"observations":[{"date":"2025-07-01","value":"4.2"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	out, err := f.Indicators(context.Background(), []string{"GDP", "UNRATE"})
	require.NoError(t, err)
	require.Len(t, out.Indicators, 2)

	// The "." placeholder observation is dropped.
	require.Len(t, out.Indicators["GDP"], 2)
	require.Equal(t, 29000.1, out.Indicators["GDP"][0].Value)
	require.Equal(t, 4.2, out.Indicators["UNRATE"][0].Value)
	require.False(t, out.AsOf.IsZero())
}

func TestFRED_PartialFailureTolerated(t *testing.T) {
	f := newFREDTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("series_id") == "BAD" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"observations":[{"date":"2025-07-01","value":"4.2"}]}`))
	})

	out, err := f.Indicators(context.Background(), []string{"UNRATE", "BAD"})
	require.NoError(t, err)
	require.Len(t, out.Indicators, 1)
	require.Contains(t, out.Indicators, "UNRATE")
}

func TestFRED_AllSeriesFailing(t *testing.T) {
	f := newFREDTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := f.Indicators(context.Background(), []string{"GDP"})
	require.Error(t, err)
}
