package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"flowershop/internal/logging"
	"flowershop/internal/usecase"
)

const (
	ctxUserID    = "user_id"
	ctxRequestID = "request_id"
)

type Deps struct {
	Auth    *usecase.AuthService
	Catalog *usecase.CatalogService
	Orders  *usecase.OrderService
	Promos  *usecase.PromoService
	Logger  *zap.Logger
}

type Server struct {
	auth    *usecase.AuthService
	catalog *usecase.CatalogService
	orders  *usecase.OrderService
	promos  *usecase.PromoService
	logger  *zap.Logger
	engine  *gin.Engine
}

func New(d Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		auth:    d.Auth,
		catalog: d.Catalog,
		orders:  d.Orders,
		promos:  d.Promos,
		logger:  logging.OrNop(d.Logger).Named("http"),
		engine:  gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.requestID, s.accessLog, s.cors)
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	r := s.engine
	r.GET("/health", s.handleHealth)
	r.GET("/flowers", s.handleListFlowers)
	r.GET("/flowers/:id", s.handleGetFlower)
	r.GET("/promo-codes/:code", s.handlePromo)

	a := r.Group("/auth")
	a.POST("/register", s.handleRegister)
	a.POST("/login", s.handleLogin)
	a.POST("/refresh", s.handleRefresh)
	a.POST("/telegram-auth", s.handleTelegramAuth)
	a.POST("/telegram-miniapp", s.handleTelegramMiniApp)

	authed := r.Group("/", s.requireAuth)
	authed.GET("/users/me", s.handleMe)
	authed.POST("/orders", s.handleCreateOrder)
	authed.GET("/orders", s.handleListOrders)

	r.NoRoute(func(c *gin.Context) {
		s.err(c, http.StatusNotFound, "NotFound", "no such endpoint")
	})
}

func (s *Server) cors(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "*")
	h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}

// requestID prefers the client's Idempotency-Key so a retried order and its
// error share one ID.
func (s *Server) requestID(c *gin.Context) {
	id := c.GetHeader("Idempotency-Key")
	if id == "" {
		id = c.GetHeader("X-Request-ID")
	}
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(ctxRequestID, id)
	c.Header("X-Request-ID", id)
	c.Next()
}

func (s *Server) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	fields := []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("latency", time.Since(start)),
		zap.String("request_id", c.GetString(ctxRequestID)),
	}
	if uid := c.GetString(ctxUserID); uid != "" {
		fields = append(fields, zap.String("user_id", uid))
	}
	if c.Writer.Status() >= http.StatusInternalServerError {
		s.logger.Error("request", fields...)
		return
	}
	s.logger.Info("request", fields...)
}

func (s *Server) requireAuth(c *gin.Context) {
	h := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		s.err(c, http.StatusUnauthorized, "Unauthorized", "bearer token required")
		c.Abort()
		return
	}
	uid, _, err := s.auth.Verify(strings.TrimSpace(token))
	if err != nil {
		s.err(c, http.StatusUnauthorized, "Unauthorized", err.Error())
		c.Abort()
		return
	}
	c.Set(ctxUserID, uid)
	c.Next()
}

func (s *Server) err(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":      code,
			"message":   msg,
			"requestId": c.GetString(ctxRequestID),
		},
	})
}

// fail maps usecase errors onto the envelope.
func (s *Server) fail(c *gin.Context, err error) {
	var (
		nf  usecase.ErrNotFound
		cf  usecase.ErrConflict
		br  usecase.ErrBadRequest
		una usecase.ErrUnauthorized
	)
	switch {
	case errors.As(err, &nf):
		s.err(c, http.StatusNotFound, "NotFound", err.Error())
	case errors.As(err, &cf):
		s.err(c, http.StatusConflict, "Conflict", err.Error())
	case errors.As(err, &br):
		s.err(c, http.StatusBadRequest, "BadRequest", err.Error())
	case errors.As(err, &una):
		s.err(c, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		s.logger.Error("internal error", zap.String("request_id", c.GetString(ctxRequestID)), zap.Error(err))
		s.err(c, http.StatusInternalServerError, "Internal", "internal error")
	}
}
