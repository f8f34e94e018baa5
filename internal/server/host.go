package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/shelf/internal/shared"
	"github.com/desertthunder/shelf/internal/tree"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tree is the pull protocol the host handler serves.
type Tree interface {
	Children(p tree.Path) (int, []tree.NodeDescriptor)
	ContentAt(p tree.Path) (tree.NodeDescriptor, bool)
	LoadChildren(p tree.Path) <-chan tree.LoadResult
}

// Playback starts playback of the item at a path.
type Playback interface {
	InitiatePlayback(p tree.Path) <-chan error
}

// ChildrenResponse is the body of GET /api/children.
type ChildrenResponse struct {
	Path     string                `json:"path"`
	Count    int                   `json:"count"`
	Children []tree.NodeDescriptor `json:"children"`
}

// ResultResponse is the body of the load and play endpoints.
type ResultResponse struct {
	Path  string `json:"path"`
	Error string `json:"error,omitempty"`
}

// HostHandler serves the tree over HTTP.
type HostHandler struct {
	tree     Tree
	playback Playback
	logger   *log.Logger
	mux      *http.ServeMux
}

// NewHostHandler creates the handler. playback may be nil to disable /api/play.
func NewHostHandler(t Tree, playback Playback, logger *log.Logger) *HostHandler {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	h := &HostHandler{
		tree:     t,
		playback: playback,
		logger:   shared.WithLogger(logger, "component", "host"),
		mux:      http.NewServeMux(),
	}
	h.mux.HandleFunc("GET /api/children", h.children)
	h.mux.HandleFunc("GET /api/content", h.content)
	h.mux.HandleFunc("POST /api/load", h.load)
	h.mux.HandleFunc("POST /api/play", h.play)
	return h
}

// Routes returns the patterns this handler serves.
func (h *HostHandler) Routes() []string {
	return []string{"GET /api/children", "GET /api/content", "POST /api/load", "POST /api/play"}
}

func (h *HostHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *HostHandler) children(w http.ResponseWriter, r *http.Request) {
	p, ok := h.path(w, r)
	if !ok {
		return
	}

	count, children := h.tree.Children(p)
	writeJSON(w, http.StatusOK, ChildrenResponse{Path: p.String(), Count: count, Children: children})
}

func (h *HostHandler) content(w http.ResponseWriter, r *http.Request) {
	p, ok := h.path(w, r)
	if !ok {
		return
	}

	d, found := h.tree.ContentAt(p)
	if !found {
		writeJSON(w, http.StatusNotFound, ResultResponse{Path: p.String(), Error: tree.ErrInvalidPath.Error()})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *HostHandler) load(w http.ResponseWriter, r *http.Request) {
	p, ok := h.path(w, r)
	if !ok {
		return
	}

	select {
	case res := <-h.tree.LoadChildren(p):
		h.result(w, p, res.Err, http.StatusOK)
	case <-r.Context().Done():
		// the load keeps running and is applied to the tree
		h.logger.Debug("client left before load finished", "path", p.String())
	}
}

func (h *HostHandler) play(w http.ResponseWriter, r *http.Request) {
	if h.playback == nil {
		http.Error(w, "playback disabled", http.StatusNotImplemented)
		return
	}
	p, ok := h.path(w, r)
	if !ok {
		return
	}

	select {
	case err := <-h.playback.InitiatePlayback(p):
		h.result(w, p, err, http.StatusAccepted)
	case <-r.Context().Done():
	}
}

func (h *HostHandler) result(w http.ResponseWriter, p tree.Path, err error, okStatus int) {
	switch {
	case err == nil:
		writeJSON(w, okStatus, ResultResponse{Path: p.String()})
	case errors.Is(err, tree.ErrInvalidPath):
		writeJSON(w, http.StatusNotFound, ResultResponse{Path: p.String(), Error: err.Error()})
	default:
		// the load completed; the error is informational
		writeJSON(w, okStatus, ResultResponse{Path: p.String(), Error: err.Error()})
	}
}

func (h *HostHandler) path(w http.ResponseWriter, r *http.Request) (tree.Path, bool) {
	p, err := tree.ParsePath(r.URL.Query().Get("path"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ResultResponse{Path: r.URL.Query().Get("path"), Error: err.Error()})
		return nil, false
	}
	return p, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// NewRouter wires the host handler, /metrics and /healthz behind the stock middleware.
func NewRouter(host *HostHandler, gatherer prometheus.Gatherer, logger *log.Logger) *BasicRouter {
	if logger == nil {
		logger = shared.DiscardLogger()
	}

	router := NewBasicRouter()
	router.Use(Recover(logger), Logging(logger))
	router.Handler(host)
	if gatherer != nil {
		router.Handle(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	router.Handle(http.MethodGet, "/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "routes": router.Routes()})
	}))
	return router
}
