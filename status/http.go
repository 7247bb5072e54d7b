package status

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonwraymond/queryops/store"
)

// ActivityHandler returns an HTTP handler reporting whether any query has a
// fetch in flight. This is the cheap probe for dashboards and smoke tests.
func ActivityHandler(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		if s.IsFetching() {
			_, _ = w.Write([]byte("FETCHING"))
		} else {
			_, _ = w.Write([]byte("IDLE"))
		}
	}
}

// SnapshotResponse is the JSON response for the registry snapshot endpoint.
type SnapshotResponse struct {
	Timestamp string          `json:"timestamp"`
	Fetching  bool            `json:"fetching"`
	Queries   []QueryResponse `json:"queries"`
}

// QueryResponse is the JSON view of a single registered query.
type QueryResponse struct {
	Hash        string `json:"hash"`
	Group       string `json:"group"`
	Subscribers int    `json:"subscribers"`
	Fetching    bool   `json:"fetching"`
	Failures    int    `json:"failures,omitempty"`
	Cached      bool   `json:"cached"`
	Stale       bool   `json:"stale"`
	Inactive    bool   `json:"inactive,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SnapshotHandler returns an HTTP handler serving a point-in-time JSON view
// of every registered query, ordered by hash for stable output.
func SnapshotHandler(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infos := s.Snapshot()
		sort.Slice(infos, func(i, j int) bool { return infos[i].Hash < infos[j].Hash })

		response := SnapshotResponse{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Queries:   make([]QueryResponse, 0, len(infos)),
		}
		for _, info := range infos {
			q := QueryResponse{
				Hash:        info.Hash,
				Group:       info.Group,
				Subscribers: info.Subscribers,
				Fetching:    info.State.Fetching,
				Failures:    info.State.Failures,
				Cached:      info.State.Cached,
				Stale:       info.State.Stale,
				Inactive:    info.State.Inactive,
			}
			if info.State.Err != nil {
				q.Error = info.State.Err.Error()
			}
			if q.Fetching {
				response.Fetching = true
			}
			response.Queries = append(response.Queries, q)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// MetricsHandler returns the Prometheus exposition handler for the given
// registry. Pair it with an OpenTelemetry prometheus exporter reader built
// on the same registry.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// RegisterHandlers mounts all status endpoints on the given mux. A nil
// registry skips the metrics endpoint.
func RegisterHandlers(mux *http.ServeMux, s *store.Store, reg *prometheus.Registry) {
	mux.HandleFunc("/statusz", ActivityHandler(s))
	mux.HandleFunc("/queries", SnapshotHandler(s))
	if reg != nil {
		mux.Handle("/metrics", MetricsHandler(reg))
	}
}
