// Package httpadmin exposes a read-only operator API over the trade registry,
// the inventory and the trade history index.
package httpadmin

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tradepost.ai/internal/inventory"
	"tradepost.ai/internal/persistence/indexdb"
	"tradepost.ai/internal/protocol"
	"tradepost.ai/internal/trade"
)

var log = logrus.WithField("component", "httpadmin")

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type Options struct {
	Registry *trade.Registry
	Gateway  inventory.Gateway
	// History is optional; without it the history routes answer 503.
	History *indexdb.SQLiteIndex
	// LoopbackOnly rejects requests whose remote address is not loopback.
	LoopbackOnly bool
}

type Server struct {
	opts   Options
	engine *gin.Engine
}

// Response is the envelope of every answer.
type Response struct {
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

func NewServer(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), accessLog())
	if opts.LoopbackOnly {
		r.Use(loopbackOnly())
	}
	s := &Server{opts: opts, engine: r}

	r.GET("/healthz", s.healthz)
	v1 := r.Group("/v1")
	v1.GET("/sessions", s.listSessions)
	v1.GET("/sessions/:id", s.getSession)
	v1.GET("/actors/:id/session", s.actorSession)
	v1.GET("/actors/:id/assets", s.actorAssets)
	v1.GET("/history", s.history)
	v1.GET("/history/:id/events", s.historyEvents)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

func (s *Server) healthz(c *gin.Context) {
	data := gin.H{
		"ok":              true,
		"active_sessions": len(s.opts.Registry.Active()),
	}
	if s.opts.History != nil {
		data["history"] = s.opts.History.Stats()
	}
	c.JSON(http.StatusOK, Response{Data: data})
}

func (s *Server) listSessions(c *gin.Context) {
	recs := s.opts.Registry.Records()
	if recs == nil {
		recs = []trade.Record{}
	}
	c.JSON(http.StatusOK, Response{Data: recs})
}

func (s *Server) getSession(c *gin.Context) {
	sess := s.opts.Registry.Get(c.Param("id"))
	if sess == nil {
		notFound(c, "no active session "+c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, Response{Data: sess.Record()})
}

func (s *Server) actorSession(c *gin.Context) {
	actor := c.Param("id")
	sess := s.opts.Registry.FindActiveFor(actor)
	if sess == nil {
		notFound(c, "no active session for "+actor)
		return
	}
	c.JSON(http.StatusOK, Response{Data: sess.Record()})
}

func (s *Server) actorAssets(c *gin.Context) {
	assets, err := s.opts.Gateway.ListOwned(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.WithError(err).WithField("actor", c.Param("id")).Warn("list assets failed")
		c.JSON(http.StatusBadGateway, Response{Code: protocol.ErrGatewayFailure, Error: err.Error()})
		return
	}
	if assets == nil {
		assets = []inventory.Asset{}
	}
	c.JSON(http.StatusOK, Response{Data: assets})
}

func (s *Server) history(c *gin.Context) {
	if s.opts.History == nil {
		unavailable(c)
		return
	}
	limit := defaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, Response{Code: protocol.ErrBadRequest, Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	rows, err := s.opts.History.Recent(c.Request.Context(), c.Query("actor"), limit)
	if err != nil {
		internal(c, err)
		return
	}
	if rows == nil {
		rows = []indexdb.TradeRow{}
	}
	c.JSON(http.StatusOK, Response{Data: rows})
}

func (s *Server) historyEvents(c *gin.Context) {
	if s.opts.History == nil {
		unavailable(c)
		return
	}
	rows, err := s.opts.History.SessionEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		internal(c, err)
		return
	}
	if len(rows) == 0 {
		notFound(c, "no events for "+c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, Response{Data: rows})
}

func notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, Response{Code: protocol.ErrNoActiveSession, Error: msg})
}

func unavailable(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, Response{Code: protocol.ErrInternal, Error: "history index disabled"})
}

func internal(c *gin.Context, err error) {
	log.WithError(err).WithField("path", c.Request.URL.Path).Error("admin query failed")
	c.JSON(http.StatusInternalServerError, Response{Code: protocol.ErrInternal, Error: err.Error()})
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
			"took":   time.Since(start),
		}).Debug("admin request")
	}
}

func loopbackOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isLoopbackRemote(c.Request.RemoteAddr) {
			c.AbortWithStatusJSON(http.StatusForbidden, Response{Code: protocol.ErrBadRequest, Error: "loopback only"})
			return
		}
		c.Next()
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
