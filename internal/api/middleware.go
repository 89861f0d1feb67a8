package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/L1nMay/vulnorch/internal/auth"
	"github.com/L1nMay/vulnorch/internal/logger"
	"github.com/L1nMay/vulnorch/internal/scan"
)

// requireUser resolves the bearer token and checks perm.
func (s *Server) requireUser(perm string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := s.authn.FromHeader(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authentication required"})
			return
		}
		if !user.Can(perm) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "insufficient permissions"})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func withLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Logger().WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Infof("api %s %s", c.Request.Method, c.Request.URL.Path)
	}
}

func withCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, scan.ErrNoAssets),
		errors.Is(err, scan.ErrInvalidAsset),
		errors.Is(err, scan.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, scan.ErrEngineUnavailable),
		errors.Is(err, scan.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, scan.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scan.ErrForbidden), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// writeError maps the controller taxonomy to {success:false, error}.
// Internal errors are logged and not echoed.
func writeError(c *gin.Context, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		logger.Errorf("api %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		msg = "internal server error"
	}
	c.JSON(code, gin.H{"success": false, "error": msg})
}
