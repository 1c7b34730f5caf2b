package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/jmcp-dev/jmcp/pkg/auth"
	"github.com/jmcp-dev/jmcp/pkg/config"
	"github.com/jmcp-dev/jmcp/pkg/device"
	"github.com/jmcp-dev/jmcp/pkg/target"
)

const serverName = "jmcp-server"

// Server wires the device registry, the session factory and the token store
// into an MCP tool surface.
type Server struct {
	cfg      *config.Config
	registry *device.Registry
	factory  target.Factory
	tokens   *auth.Store

	mcp    *mcp.Server
	router *mux.Router
	reg    *prometheus.Registry

	toolCalls    *prometheus.CounterVec
	toolErrors   *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
}

func New(cfg *config.Config, registry *device.Registry, factory target.Factory, tokens *auth.Store) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		factory:  factory,
		tokens:   tokens,
		router:   mux.NewRouter(),
		reg:      prometheus.NewRegistry(),
	}

	s.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jmcp_tool_calls_total",
		Help: "Number of tool invocations.",
	}, []string{"tool"})
	s.toolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jmcp_tool_errors_total",
		Help: "Number of tool invocations that reported a failure.",
	}, []string{"tool"})
	s.toolDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "jmcp_tool_duration_seconds",
		Help: "Tool handler duration.",
	}, []string{"tool"})
	s.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		s.toolCalls, s.toolErrors, s.toolDuration,
	)

	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: "1.0.0",
	}, nil)
	s.addTools()

	return s
}

// Serve runs the configured transport until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if s.cfg.MCPServer.Transport == config.TransportStdio {
		log.Info("stdio transport - no authentication required")
		return s.mcp.Run(ctx, &mcp.StdioTransport{})
	}

	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, nil)

	var h http.Handler = handler
	if s.tokens.Len() > 0 {
		log.Info("token-based authentication enabled")
		log.Info("clients must send 'Authorization: Bearer <token>' header")
		h = auth.Middleware(s.tokens, h)
	} else {
		log.Warn("no tokens configured - server is open to all clients")
	}

	s.router.PathPrefix("/mcp").Handler(h)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf("%s:%d", s.cfg.MCPServer.Host, s.cfg.MCPServer.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	if s.cfg.MCPServer.TLS != nil {
		tlsCfg, err := s.cfg.MCPServer.TLS.NewConfig()
		if err != nil {
			return err
		}
		srv.TLSConfig = tlsCfg
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("streamable HTTP server started on http://%s/mcp", addr)
	var err error
	if srv.TLSConfig != nil {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// instrument counts one tool call and returns the deferred duration observer.
func (s *Server) instrument(tool string) func() {
	s.toolCalls.WithLabelValues(tool).Inc()
	start := time.Now()
	return func() {
		s.toolDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())
	}
}
