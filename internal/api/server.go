// Package api provides the HTTP server and handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/timkendrick/shunt/internal/events"
	"github.com/timkendrick/shunt/internal/logging"
	"github.com/timkendrick/shunt/internal/metrics"
	"github.com/timkendrick/shunt/internal/syncer"
	"github.com/timkendrick/shunt/pkg/models"
	"github.com/timkendrick/shunt/pkg/protocol"
	"github.com/timkendrick/shunt/pkg/tree"
)

// Pool gzip writers to reduce allocations on tree endpoints.
var gzipPool = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

// TreeSource produces the tree of one app tree. A non-nil root with a
// non-nil error is served with a warning.
type TreeSource interface {
	GetTree(ctx context.Context, key models.AppKey, prefix string) (*models.FileNode, error)
}

// PrefixFunc maps an app tree to the path prefix its source understands.
type PrefixFunc func(key models.AppKey) string

// Server is the HTTP server.
type Server struct {
	source      TreeSource
	prefix      PrefixFunc
	broadcaster *events.Broadcaster
}

// NewServer creates a server. broadcaster may be nil, disabling /api/v1/events.
func NewServer(source TreeSource, prefix PrefixFunc, broadcaster *events.Broadcaster) *Server {
	return &Server{source: source, prefix: prefix, broadcaster: broadcaster}
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/sites/{user}/{app}/tree", s.handleTree)
	if s.broadcaster != nil {
		mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	}

	// metrics sits inside logging so it sees the request the mux annotates
	return logging.Middleware(metrics.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleTree serves one app tree. ?path= narrows the response to a subtree.
func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	key := models.AppKey{User: r.PathValue("user"), App: r.PathValue("app")}
	if err := key.Validate(); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	log := logging.WithContext(r.Context()).With(zap.String("app", key.String()))

	root, err := s.source.GetTree(r.Context(), key, s.prefix(key))
	if root == nil {
		if err != nil {
			log.Error("tree unavailable", zap.Error(err))
			code := http.StatusBadGateway
			if errors.Is(err, syncer.ErrPersistence) {
				code = http.StatusServiceUnavailable
			}
			s.sendError(w, code, "tree unavailable: "+err.Error())
			return
		}
		s.sendError(w, http.StatusNotFound, "tree not found: "+key.String())
		return
	}

	resp := protocol.TreeResponse{Root: root}
	if err != nil {
		resp.Warning = err.Error()
		resp.Stale = !errors.Is(err, syncer.ErrPersistence)
		log.Warn("serving tree with warning", zap.Bool("stale", resp.Stale), zap.Error(err))
	}

	if sub := r.URL.Query().Get("path"); sub != "" {
		node := findRelative(root, sub)
		if node == nil {
			s.sendError(w, http.StatusNotFound, "path not found: "+sub)
			return
		}
		resp.Root = node
	}

	if resp.Stale {
		w.Header().Set("X-Tree-Stale", "true")
	}
	s.sendJSON(w, r, resp)
}

// findRelative resolves p against the root's path, falling back to p as an
// absolute path.
func findRelative(root *models.FileNode, p string) *models.FileNode {
	if node := tree.FindByPath(root, tree.BuildChildPath(root.Path, strings.Trim(p, "/"))); node != nil {
		return node
	}
	return tree.FindByPath(root, p)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe(r.URL.Query().Get("app"))
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

func (s *Server) sendJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if acceptsGzip(r) {
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzipPool.Get().(*gzip.Writer)
		gw.Reset(w)
		json.NewEncoder(gw).Encode(v)
		gw.Close()
		gzipPool.Put(gw)
		return
	}
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
