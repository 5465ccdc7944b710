package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kwv/ndtscan/link"
	"github.com/kwv/ndtscan/ndt"
)

// layerSummary is one entry of GET /layers
type layerSummary struct {
	Layer      int     `json:"layer"`
	CellSize   float64 `json:"cellSize"`
	Cells      int     `json:"cells"`
	ValidCells int     `json:"validCells"`
}

// newHTTPServer creates the read-only API over tracker
func newHTTPServer(tracker *link.Tracker, logger *log.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			logger.Debug("HTTP request", "method", req.Method, "path", req.URL.Path, "remote", req.RemoteAddr)
			next.ServeHTTP(w, req)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		scans, rejected := tracker.Stats()
		writeHTTPJSON(w, logger, struct {
			Status      string    `json:"status"`
			Timestamp   time.Time `json:"timestamp"`
			Initialized bool      `json:"initialized"`
			Scans       int       `json:"scans"`
			Rejected    int       `json:"rejected"`
		}{
			Status:      "ok",
			Timestamp:   time.Now(),
			Initialized: tracker.Initialized(),
			Scans:       scans,
			Rejected:    rejected,
		})
	})

	r.Get("/pose", func(w http.ResponseWriter, req *http.Request) {
		if !tracker.Initialized() {
			http.Error(w, "No scans received", http.StatusServiceUnavailable)
			return
		}
		writeHTTPJSON(w, logger, link.NewPoseMessage(tracker.Odometry()))
	})

	r.Get("/odometry", func(w http.ResponseWriter, req *http.Request) {
		if !tracker.Initialized() {
			http.Error(w, "No scans received", http.StatusServiceUnavailable)
			return
		}
		writeHTTPJSON(w, logger, link.NewOdometryMessage(tracker.Odometry(), tracker.LastResult()))
	})

	r.Get("/layers", func(w http.ResponseWriter, req *http.Request) {
		summaries := []layerSummary{}
		for i := 0; i < tracker.LayerCount(); i++ {
			data, err := tracker.LayerData(i)
			if err != nil {
				break
			}
			summaries = append(summaries, layerSummary{
				Layer:      data.Layer,
				CellSize:   data.CellSize,
				Cells:      len(data.Cells),
				ValidCells: len(data.ValidCells()),
			})
		}
		writeHTTPJSON(w, logger, summaries)
	})

	// {name} is the layer index with an optional extension: 0, 0.geojson, 0.svg, 0.png
	r.Get("/layers/{name}", func(w http.ResponseWriter, req *http.Request) {
		idStr, ext, _ := strings.Cut(chi.URLParam(req, "name"), ".")
		id, err := strconv.Atoi(idStr)
		if err != nil {
			http.Error(w, "Invalid layer id", http.StatusBadRequest)
			return
		}
		data, err := tracker.LayerData(id)
		if errors.Is(err, ndt.ErrOutOfRange) {
			http.Error(w, "Layer not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		var contentType string
		switch ext {
		case "", "json":
			writeHTTPJSON(w, logger, data)
			return
		case "geojson":
			contentType = "application/geo+json"
		case "svg":
			contentType = "image/svg+xml"
		case "png":
			contentType = "image/png"
			ext = "field"
		default:
			http.Error(w, "Unknown format", http.StatusNotFound)
			return
		}

		var buf bytes.Buffer
		if err := renderLayer(&buf, ext, data, nil); err != nil {
			logger.Error("rendering layer", "layer", id, "format", ext, "err", err)
			http.Error(w, "Rendering failed", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(buf.Bytes()); err != nil {
			logger.Warn("writing response", "err", err)
		}
	})

	return r
}

func writeHTTPJSON(w http.ResponseWriter, logger *log.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encoding response", "err", err)
	}
}
