package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/kwv/meshalign/align"
	"github.com/kwv/meshalign/store"
)

// maxUploadBytes caps POST /extract bodies
const maxUploadBytes = 16 << 20

// historyReader is the read side of the run history
type historyReader interface {
	ListRuns(ctx context.Context, session string, limit int) ([]store.RunSummary, error)
	LoadRun(ctx context.Context, runID string) (*align.Report, error)
}

// sessionSummary is one entry of GET /sessions
type sessionSummary struct {
	ID            string    `json:"id"`
	HasFeatureSet bool      `json:"hasFeatureSet"`
	RunID         string    `json:"runId,omitempty"`
	Clusters      int       `json:"clusters"`
	CreatedAt     time.Time `json:"createdAt,omitempty"`
}

// newHTTPServer creates an HTTP server with all endpoints. history may be nil.
func newHTTPServer(state *align.StateTracker, extractor *align.Extractor, history historyReader) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Sessions  int       `json:"sessions"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Sessions:  len(state.Sessions()),
		}
		writeJSON(w, http.StatusOK, status)
	})

	mux.HandleFunc("GET /sessions", func(w http.ResponseWriter, r *http.Request) {
		summaries := make([]sessionSummary, 0)
		for _, id := range state.Sessions() {
			s := sessionSummary{ID: id}
			_, s.HasFeatureSet = state.FeatureSet(id)
			if rep, ok := state.Report(id); ok {
				s.RunID = rep.RunID
				s.Clusters = len(rep.Clusters)
				s.CreatedAt = rep.CreatedAt
			}
			summaries = append(summaries, s)
		}
		writeJSON(w, http.StatusOK, summaries)
	})

	mux.HandleFunc("GET /sessions/{id}/report", func(w http.ResponseWriter, r *http.Request) {
		rep, ok := state.Report(r.PathValue("id"))
		if !ok {
			http.Error(w, "No report for session", http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("format") == "text" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			if err := align.FormatReport(w, rep); err != nil {
				log.Printf("[HTTP] Error writing report: %v", err)
			}
			return
		}
		writeJSON(w, http.StatusOK, rep)
	})

	mux.HandleFunc("GET /sessions/{id}/geojson", func(w http.ResponseWriter, r *http.Request) {
		fs, rep, ok := sessionData(w, state, r.PathValue("id"))
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		if err := json.NewEncoder(w).Encode(align.ReportToFeatureCollection(fs, rep, align.DefaultInlierRadius)); err != nil {
			log.Printf("[HTTP] Error encoding GeoJSON: %v", err)
		}
	})

	mux.HandleFunc("GET /sessions/{id}/render.svg", func(w http.ResponseWriter, r *http.Request) {
		fs, rep, ok := sessionData(w, state, r.PathValue("id"))
		if !ok {
			return
		}
		renderer := align.NewVectorRenderer(fs, rep)
		if !renderer.HasDrawableContent() {
			http.Error(w, "No drawable content", http.StatusServiceUnavailable)
			return
		}
		if v := r.URL.Query().Get("grid"); v != "" {
			if spacing, err := strconv.ParseFloat(v, 64); err == nil && spacing >= 0 {
				renderer.GridSpacing = spacing
			}
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		if err := renderer.RenderToSVG(w); err != nil {
			log.Printf("[HTTP] Error rendering SVG: %v", err)
		}
	})

	mux.HandleFunc("GET /sessions/{id}/render.png", func(w http.ResponseWriter, r *http.Request) {
		fs, rep, ok := sessionData(w, state, r.PathValue("id"))
		if !ok {
			return
		}
		renderer := align.NewOverlayRenderer(fs, rep)
		if !renderer.HasDrawableContent() {
			http.Error(w, "No drawable content", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		if err := renderer.EncodePNG(w); err != nil {
			log.Printf("[HTTP] Error encoding PNG: %v", err)
		}
	})

	mux.HandleFunc("POST /extract", func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
		if err != nil {
			http.Error(w, "Reading body failed", http.StatusBadRequest)
			return
		}
		fs, err := align.DecodeFeatureSet(data)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid feature set: %v", err), http.StatusBadRequest)
			return
		}

		session := r.URL.Query().Get("session")
		if session == "" {
			session = fs.Session
		}
		if session == "" {
			http.Error(w, "Missing session", http.StatusBadRequest)
			return
		}

		log.Printf("[HTTP] /extract for %s (%d points)", session, len(fs.Points))
		rep, err := extractor.Extract(r.Context(), session, fs, true)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, align.ErrDuplicatePoint) || errors.Is(err, align.ErrPointNotFound) ||
				errors.Is(err, align.ErrInvalidPower) {
				status = http.StatusUnprocessableEntity
			}
			http.Error(w, err.Error(), status)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	})

	mux.HandleFunc("POST /sessions/{id}/fetch", func(w http.ResponseWriter, r *http.Request) {
		rep, err := extractor.FetchAndExtract(r.Context(), r.PathValue("id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	})

	mux.HandleFunc("GET /history", func(w http.ResponseWriter, r *http.Request) {
		if history == nil {
			http.Error(w, "History disabled", http.StatusNotFound)
			return
		}
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				http.Error(w, "Invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		runs, err := history.ListRuns(r.Context(), r.URL.Query().Get("session"), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if runs == nil {
			runs = []store.RunSummary{}
		}
		writeJSON(w, http.StatusOK, runs)
	})

	mux.HandleFunc("GET /history/{runID}", func(w http.ResponseWriter, r *http.Request) {
		if history == nil {
			http.Error(w, "History disabled", http.StatusNotFound)
			return
		}
		rep, err := history.LoadRun(r.Context(), r.PathValue("runID"))
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	})

	return mux
}

// sessionData looks up the feature set and report of a session, answering 404
// when either is missing
func sessionData(w http.ResponseWriter, state *align.StateTracker, id string) (*align.FeatureSet, *align.Report, bool) {
	fs, ok := state.FeatureSet(id)
	if !ok {
		http.Error(w, "No feature set for session", http.StatusNotFound)
		return nil, nil, false
	}
	rep, ok := state.Report(id)
	if !ok {
		http.Error(w, "No report for session", http.StatusNotFound)
		return nil, nil, false
	}
	return fs, rep, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] Error encoding response: %v", err)
	}
}
