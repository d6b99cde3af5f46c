// Package server exposes the tool registry over HTTP. Requests under /mcp/
// pass through the context interceptor, so every tool call runs on a pool
// worker with the caller's headers, diagnostic context, request scope and
// locale.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-go-golems/ctxrelay/pkg/executor"
	"github.com/go-go-golems/ctxrelay/pkg/mdc"
	"github.com/go-go-golems/ctxrelay/pkg/tools"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// maximum accepted request body
const maxBodyBytes = 1 << 20

type Server struct {
	app     *App
	handler http.Handler
}

// ToolDescription is one entry of GET /tools.
type ToolDescription struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Parameters  any      `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

type batchRequest struct {
	Calls []tools.ToolCall `json:"calls"`
}

type batchResponse struct {
	Results []*tools.ToolResult `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func New(app *App) *Server {
	s := &Server{app: app}

	mcp := http.NewServeMux()
	mcp.HandleFunc("POST /mcp/message", s.handleMessage)
	mcp.HandleFunc("POST /mcp/batch", s.handleBatch)

	mux := http.NewServeMux()
	mux.Handle("/mcp/", app.Interceptor.Middleware(mcp))
	mux.HandleFunc("GET /tools", s.handleTools)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.handler = mux
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx is done, then shuts down the HTTP
// server gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", addr).Msg("Starting ctxrelay server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listening")
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("Shutting down ctxrelay server")
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var call tools.ToolCall
	if err := decodeBody(w, r, &call); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if call.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing tool name"})
		return
	}

	result, err := s.app.Executor.ExecuteToolCall(r.Context(), call)
	if err != nil {
		s.writeExecutionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	results, err := s.app.Executor.ExecuteToolCalls(r.Context(), req.Calls)
	if err != nil {
		if errors.Is(err, executor.ErrQueueFull) || errors.Is(err, executor.ErrPoolClosed) {
			s.writeExecutionError(w, r, err)
			return
		}
		// aborted batches still report the results gathered so far
		mdc.Ctx(r.Context()).Warn().Err(err).Msg("batch stopped early")
	}
	if results == nil {
		results = []*tools.ToolResult{}
	}
	writeJSON(w, http.StatusOK, batchResponse{Results: results})
}

func (s *Server) writeExecutionError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, executor.ErrQueueFull), errors.Is(err, executor.ErrPoolClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	mdc.Ctx(r.Context()).Error().Err(err).Int("status", status).Msg("tool execution failed")
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	cfg := s.app.Executor.Config()
	defs := cfg.FilterTools(s.app.Registry.ListTools())

	if r.URL.Query().Get("format") == "openai" {
		writeJSON(w, http.StatusOK, tools.OpenAITools(defs))
		return
	}
	writeJSON(w, http.StatusOK, Describe(defs))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.app.Pool.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"workers": stats.Workers,
		"queued":  stats.Queued,
		"tools":   s.app.Registry.Count(),
	})
}

// Describe turns definitions into their JSON description.
func Describe(defs []tools.ToolDefinition) []ToolDescription {
	ret := make([]ToolDescription, 0, len(defs))
	for _, d := range defs {
		td := ToolDescription{Name: d.Name, Description: d.Description, Tags: d.Tags}
		if d.Parameters != nil {
			td.Parameters = d.Parameters
		}
		ret = append(ret, td)
	}
	return ret
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
