// Package server exposes the verification service over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/willchan-117/human-verifier/internal/config"
	"github.com/willchan-117/human-verifier/internal/logging"
	"github.com/willchan-117/human-verifier/internal/verifier"
)

// Server wraps the gin engine and the underlying http.Server.
type Server struct {
	cfg    config.ServerConfig
	v      *verifier.Verifier
	log    *logging.Logger
	engine *gin.Engine
	http   *http.Server
}

// New builds the verification server and its routes.
func New(cfg config.ServerConfig, v *verifier.Verifier, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:    cfg,
		v:      v,
		log:    log.WithComponent("server"),
		engine: engine,
	}

	engine.GET("/healthz", s.handleHealth)
	engine.POST("/api/v1/verify", s.handleVerify)

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      engine,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSec) * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("verification service listening", "addr", s.cfg.Addr)
		errc <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.log.Info("verification service stopped")
		return nil
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleVerify runs the three-check verification. Failed checks are a
// normal 200 response with success=false; only structurally invalid
// input gets an error status, and even then the body is the failure
// envelope rather than a fault.
func (s *Server) handleVerify(c *gin.Context) {
	var req verifier.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.log.Diag("verify request rejected", "error", err)
		c.JSON(http.StatusBadRequest, verifier.Failure(errors.New("request body is not valid JSON")))
		return
	}
	if missing := missingFields(req); missing != "" {
		s.log.Diag("verify request incomplete", "missing", missing)
		c.JSON(http.StatusBadRequest, verifier.Failure(errors.New("missing required field: "+missing)))
		return
	}

	res, err := s.v.Verify(req)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, verifier.ErrEmptyPackage) {
			status = http.StatusBadRequest
		}
		s.log.Info("verify request not checkable", "error", err)
		c.JSON(status, verifier.Failure(err))
		return
	}

	s.log.Info("verification completed",
		"success", res.Success,
		"sessions", res.Telemetry.Flags.TotalSessions)
	c.JSON(http.StatusOK, res)
}

// missingFields names the first absent required request field. All three
// are mandatory: omitting the document hash must not let a package skip
// tamper detection.
func missingFields(req verifier.Request) string {
	switch {
	case len(req.Package) == 0:
		return "package"
	case req.Token == "":
		return "token"
	case req.DocumentHash == "":
		return "documentHash"
	}
	return ""
}
