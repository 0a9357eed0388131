// Package server is the HTTP and websocket front door for document
// evaluation and answer-sheet reading.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xhad/assess/internal/models"
	"github.com/xhad/assess/internal/types"
	"github.com/xhad/assess/pkg/fetcher"
	"github.com/xhad/assess/pkg/llm"
	"github.com/xhad/assess/pkg/logging"
	"github.com/xhad/assess/pkg/metrics"
	"github.com/xhad/assess/pkg/pipeline"
)

// Evaluator runs the evaluation pipeline, reporting each state to observer.
type Evaluator interface {
	RunObserved(ctx context.Context, req pipeline.Request, observer pipeline.Observer) (*models.PipelineResult, error)
}

// AnswerReader reads the answers off the answer sheet at link.
type AnswerReader interface {
	Read(ctx context.Context, link string) ([]models.Answer, error)
}

type Config struct {
	AllowedOrigin  string
	MaxConcurrent  int
	RequestTimeout time.Duration
}

// Message is the websocket envelope in both directions.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

type extractRequest struct {
	DriveLink string `json:"drive_link"`
	Topic     string `json:"topic"`
}

type extractResponse struct {
	Success bool `json:"success"`
	*models.PipelineResult
}

type omrResponse struct {
	Success    bool            `json:"success"`
	OMRResults []models.Answer `json:"omr_results"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Stage   string `json:"stage,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

const (
	msgMissingExtractFields = "Missing drive_link or topic in request body"
	msgMissingDriveLink     = "Missing drive_link"
	msgNoText               = "No text extracted from document"
)

var errBusy = errors.New("server is at capacity")

type Server struct {
	config    Config
	texts     types.TextProvider
	evaluator Evaluator
	answers   AnswerReader
	metrics   *metrics.Metrics
	logger    *slog.Logger
	slots     chan struct{}
	upgrader  websocket.Upgrader
}

func New(config Config, texts types.TextProvider, evaluator Evaluator, answers AnswerReader, m *metrics.Metrics, logger *slog.Logger) *Server {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if config.AllowedOrigin == "" {
		config.AllowedOrigin = "*"
	}
	s := &Server{
		config:    config,
		texts:     texts,
		evaluator: evaluator,
		answers:   answers,
		metrics:   m,
		logger:    logging.WithComponent(logger, "server"),
		slots:     make(chan struct{}, config.MaxConcurrent),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.originAllowed,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/extract-text", s.handleExtractText)
	mux.HandleFunc("/omr-extract", s.handleOMRExtract)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/ws", s.handleWebSocket)
	return s.withRequestID(s.withCORS(mux))
}

// ListenAndServe serves until ctx ends, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"message": "Service is running",
	})
}

func (s *Server) handleExtractText(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DriveLink == "" || req.Topic == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgMissingExtractFields})
		return
	}

	ctx, cancel := s.requestContext(r.Context())
	defer cancel()

	release, err := s.acquire(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	defer release()

	result, err := s.evaluate(ctx, req, nil)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, extractResponse{Success: true, PipelineResult: result})
}

func (s *Server) handleOMRExtract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DriveLink == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgMissingDriveLink})
		return
	}

	ctx, cancel := s.requestContext(r.Context())
	defer cancel()

	release, err := s.acquire(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	defer release()

	answers, err := s.answers.Read(ctx, req.DriveLink)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, omrResponse{Success: true, OMRResults: answers})
}

func (s *Server) evaluate(ctx context.Context, req extractRequest, observer pipeline.Observer) (*models.PipelineResult, error) {
	text, err := s.texts.FetchText(ctx, req.DriveLink)
	if err != nil {
		return nil, err
	}
	return s.evaluator.RunObserved(ctx, pipeline.Request{DocumentText: text, Topic: req.Topic}, observer)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r.Context(), s.logger)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ws := &wsConn{conn: conn, logger: logger}
	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleMessage(ctx, ws, msg)
		}()
	}
}

func (s *Server) handleMessage(ctx context.Context, ws *wsConn, msg Message) {
	if msg.Type != "evaluate" {
		ws.send(Message{Type: "error", Content: fmt.Sprintf("unknown message type %q", msg.Type)})
		return
	}

	var req extractRequest
	if raw, err := json.Marshal(msg.Data); err == nil {
		_ = json.Unmarshal(raw, &req)
	}
	if req.DriveLink == "" || req.Topic == "" {
		ws.send(Message{Type: "error", Content: msgMissingExtractFields})
		return
	}

	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	release, err := s.acquire(ctx)
	if err != nil {
		ws.send(Message{Type: "error", Content: err.Error()})
		return
	}
	defer release()

	ws.send(Message{Type: "status", Content: "Fetching document"})
	result, err := s.evaluate(ctx, req, func(state pipeline.State) {
		ws.send(Message{Type: "progress", Content: string(state)})
	})
	if err != nil {
		_, body := failure(err)
		ws.send(Message{Type: "error", Content: body.Error, Data: body})
		return
	}
	ws.send(Message{Type: "result", Content: "Evaluation complete", Data: result})
}

// wsConn serialises writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	logger *slog.Logger
}

func (c *wsConn) send(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Warn("error sending message", "error", err)
	}
}

func (s *Server) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.RequestTimeout > 0 {
		return context.WithTimeout(ctx, s.config.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

// acquire takes a worker slot, waiting until ctx ends.
func (s *Server) acquire(ctx context.Context) (func(), error) {
	select {
	case s.slots <- struct{}{}:
		return func() { <-s.slots }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", errBusy, ctx.Err())
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, body := failure(err)
	requestLogger(r.Context(), s.logger).Warn("request failed", "status", status, "error", err)
	writeJSON(w, status, body)
}

// failure maps an error to its HTTP status and response body.
func failure(err error) (int, errorResponse) {
	body := errorResponse{Error: err.Error()}

	var de *fetcher.DownloadError
	var pe *pipeline.Error
	var ge *llm.GenerationError
	switch {
	case errors.As(err, &de):
		if errors.Is(err, fetcher.ErrNotImage) || errors.Is(err, fetcher.ErrUnsupportedContent) {
			return http.StatusUnprocessableEntity, body
		}
		return http.StatusBadGateway, body
	case errors.As(err, &pe):
		body.Stage = string(pe.Stage)
		body.Kind = string(pe.Kind)
		switch {
		case pe.Kind == pipeline.KindEmptyDocument:
			body.Error = msgNoText
			return http.StatusBadRequest, body
		case errors.As(err, &ge) && ge.Reason == llm.ReasonTimeout:
			return http.StatusGatewayTimeout, body
		}
		return http.StatusBadGateway, body
	case errors.As(err, &ge):
		if ge.Reason == llm.ReasonTimeout {
			return http.StatusGatewayTimeout, body
		}
		return http.StatusBadGateway, body
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, body
	}
	return http.StatusInternalServerError, body
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.config.AllowedOrigin == "*" || strings.EqualFold(origin, s.config.AllowedOrigin)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.originAllowed(r) && r.Header.Get("Origin") != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.config.AllowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))

		s.metrics.HTTPRequest(r.Method, r.URL.Path, rec.status)
		s.logger.Info("request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start))
	})
}

func requestLogger(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return logger.With("request_id", id)
	}
	return logger
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
