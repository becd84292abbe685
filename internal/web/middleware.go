package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/YuminosukeSato/strokeguard/internal/session"
	"github.com/YuminosukeSato/strokeguard/pkg/errors"
	"github.com/YuminosukeSato/strokeguard/pkg/log"
)

const sessionKey = "session"

// sessionMiddleware attaches the caller's session, issuing a cookie for new
// sessions.
func (s *Server) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := c.Cookie(session.CookieName)
		sess := s.sessions.Get(id)
		if sess.ID != id {
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(session.CookieName, sess.ID, int(sessionIdle.Seconds()), "/", "", false, true)
		}
		c.Set(sessionKey, sess)
		c.Next()
	}
}

func currentSession(c *gin.Context) *session.Session {
	return c.MustGet(sessionKey).(*session.Session)
}

// requestLogger logs one line per request.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []any{
			log.RouteKey, c.FullPath(),
			log.MethodKey, c.Request.Method,
			log.StatusKey, c.Writer.Status(),
			log.ClientIPKey, c.ClientIP(),
			log.DurationMsKey, time.Since(start).Milliseconds(),
		}
		if v, ok := c.Get(sessionKey); ok {
			fields = append(fields, log.SessionIDKey, v.(*session.Session).ID)
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Error("Request failed", fields...)
			return
		}
		s.logger.Info("Request handled", fields...)
	}
}

// statusFor maps an error to the HTTP status of its class.
func statusFor(err error) int {
	switch {
	case errors.IsInputError(err):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrNoData),
		errors.Is(err, errors.ErrNoModel),
		errors.Is(err, errors.ErrModelFileNotFound):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"error", "details"} and logs the error with its
// stack. The stack never goes to the client.
func (s *Server) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	kind := "internal error"
	switch status {
	case http.StatusBadRequest:
		kind = "invalid input"
		s.logger.Warn("Rejected request", err, log.RouteKey, c.FullPath())
	case http.StatusConflict:
		kind = "conflict"
		s.logger.Warn("Request out of order", err, log.RouteKey, c.FullPath())
	default:
		s.logger.Error("Handler failed", err, log.RouteKey, c.FullPath())
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error":   kind,
		"details": err.Error(),
	})
}
