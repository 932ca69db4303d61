// Package http serves the ragd REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/metadata"
	"github.com/fyrsmithlabs/ragd/internal/telemetry"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Chatter runs chat turns and serves history.
type Chatter interface {
	Chat(ctx context.Context, sess *metadata.Session, query string, req chat.RequestConfiguration, userName string) (*chat.Message, error)
	History(ctx context.Context, sessionID int64) ([]chat.Message, error)
	ClearHistory(ctx context.Context, sessionID int64) error
}

// Indexer gates and stores documents.
type Indexer interface {
	Index(ctx context.Context, req ingest.IndexRequest) (*ingest.IndexResult, error)
	Summarize(ctx context.Context, req ingest.IndexRequest) (*ingest.SummaryResult, error)
}

// Collections hands out a data source's collections.
type Collections interface {
	ForChunks(dataSourceID int64) *vectorstore.Collection
	ForSummaries(dataSourceID int64) *vectorstore.Collection
}

// HealthReporter reports telemetry health for /health.
type HealthReporter interface {
	Health() telemetry.HealthStatus
}

// Dependencies are the collaborators behind the routes. Health may be nil.
type Dependencies struct {
	Chat        Chatter
	Sessions    metadata.Sessions
	Indexer     Indexer
	Collections Collections
	Health      HealthReporter
	Metrics     *Metrics
	Version     string
}

// Server provides the HTTP endpoints.
type Server struct {
	echo   *echo.Echo
	deps   Dependencies
	logger *logging.Logger
	config config.ServerConfig
}

// NewServer builds the echo instance and registers routes.
func NewServer(deps Dependencies, cfg config.ServerConfig, logger *logging.Logger) (*Server, error) {
	switch {
	case deps.Chat == nil:
		return nil, errors.New("chat is required")
	case deps.Sessions == nil:
		return nil, errors.New("sessions are required")
	case deps.Indexer == nil:
		return nil, errors.New("indexer is required")
	case deps.Collections == nil:
		return nil, errors.New("collections are required")
	case logger == nil:
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(logger)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger.Named("http"),
		config: cfg,
	}
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestContext)
	e.Use(s.requestLogger)
	e.Use(deps.Metrics.Middleware())

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")

	sessions := v1.Group("/sessions/:session_id")
	sessions.POST("/chat", s.handleChat)
	sessions.GET("/chat-history", s.handleHistory)
	sessions.DELETE("/chat-history", s.handleClearHistory)

	ds := v1.Group("/data_sources/:data_source_id")
	ds.DELETE("", s.handleDeleteDataSource)
	ds.GET("/size", s.handleSize)
	ds.POST("/visualize", s.handleVisualize)
	ds.POST("/documents/:doc_id/index", s.handleIndex)
	ds.POST("/documents/:doc_id/summary", s.handleSummary)
	ds.DELETE("/documents/:doc_id", s.handleDeleteDocument)
}

// requestContext carries the request id and a request-scoped logger.
func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.WithRequestID(c.Request().Context(), id)
		ctx = logging.WithLogger(ctx, s.logger)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return err
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Version: s.deps.Version}
	if s.deps.Health != nil {
		h := s.deps.Health.Health()
		resp.Telemetry = &h
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleChat(c echo.Context) error {
	var req ChatRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := logging.WithSessionID(c.Request().Context(), req.SessionID)
	sess, err := s.deps.Sessions.Session(ctx, req.SessionID)
	if err != nil {
		return err
	}

	msg, err := s.deps.Chat.Chat(ctx, sess, req.Query, chat.RequestConfiguration{
		ExcludeKnowledgeBase:  req.ExcludeKnowledgeBase,
		UseQuestionCondensing: req.UseQuestionCondensing,
	}, req.UserName)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, msg)
}

func (s *Server) handleHistory(c echo.Context) error {
	id, err := int64Param(c, "session_id")
	if err != nil {
		return err
	}
	msgs, err := s.deps.Chat.History(logging.WithSessionID(c.Request().Context(), id), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, HistoryResponse{Messages: msgs})
}

func (s *Server) handleClearHistory(c echo.Context) error {
	id, err := int64Param(c, "session_id")
	if err != nil {
		return err
	}
	if err := s.deps.Chat.ClearHistory(logging.WithSessionID(c.Request().Context(), id), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleIndex(c echo.Context) error {
	var req DocumentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := s.deps.Indexer.Index(documentContext(c, req.DataSourceID), req.indexRequest())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleSummary(c echo.Context) error {
	var req DocumentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := s.deps.Indexer.Summarize(documentContext(c, req.DataSourceID), req.indexRequest())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleDeleteDataSource(c echo.Context) error {
	id, err := int64Param(c, "data_source_id")
	if err != nil {
		return err
	}
	ctx := documentContext(c, id)
	if err := s.deps.Collections.ForChunks(id).Delete(ctx); err != nil {
		return err
	}
	if err := s.deps.Collections.ForSummaries(id).Delete(ctx); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	id, err := int64Param(c, "data_source_id")
	if err != nil {
		return err
	}
	docID := c.Param("doc_id")
	ctx := documentContext(c, id)
	if err := s.deps.Collections.ForChunks(id).DeleteDocument(ctx, docID); err != nil {
		return err
	}
	if err := s.deps.Collections.ForSummaries(id).DeleteDocument(ctx, docID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSize(c echo.Context) error {
	id, err := int64Param(c, "data_source_id")
	if err != nil {
		return err
	}
	n, ok, err := s.deps.Collections.ForChunks(id).Size(documentContext(c, id))
	if err != nil {
		return err
	}
	var resp SizeResponse
	if ok {
		resp.Size = &n
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleVisualize(c echo.Context) error {
	var req VisualizeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	points, err := s.deps.Collections.ForChunks(req.DataSourceID).Visualize(documentContext(c, req.DataSourceID), req.Query)
	if err != nil {
		return err
	}
	if points == nil {
		points = []vectorstore.Point2D{}
	}
	return c.JSON(http.StatusOK, VisualizeResponse{Points: points})
}

func (r DocumentRequest) indexRequest() ingest.IndexRequest {
	return ingest.IndexRequest{
		DataSourceID: r.DataSourceID,
		DocumentID:   r.DocumentID,
		FileName:     r.FileName,
		Text:         r.Text,
		Metadata:     r.Metadata,
	}
}

func bindAndValidate(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return err
	}
	return c.Validate(v)
}

func int64Param(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s %q", name, c.Param(name)))
	}
	return id, nil
}

func documentContext(c echo.Context, dataSourceID int64) context.Context {
	return logging.WithDataSourceID(c.Request().Context(), dataSourceID)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
