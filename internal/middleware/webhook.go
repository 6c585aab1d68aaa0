package middleware

import (
  "crypto/subtle"
  "net/http"
  "github.com/gin-gonic/gin"
  "github.com/yungbote/dialbridge-backend/internal/pkg/logger"
)

type WebhookMiddleware struct {
  log       *logger.Logger
  secret    string
}

func NewWebhookMiddleware(log *logger.Logger, secret string) *WebhookMiddleware {
  middlewareLogger := log.With("Middleware", "WebhookMiddleware")
  return &WebhookMiddleware{log: middlewareLogger, secret: secret}
}

// RequireSecret gates provider callbacks behind a shared secret carried in a
// header or query param. An empty configured secret disables the check for
// local development.
func (wm *WebhookMiddleware) RequireSecret() gin.HandlerFunc {
  return func(c *gin.Context) {
    if wm.secret == "" {
      c.Next()
      return
    }
    presented := c.GetHeader("X-Webhook-Secret")
    if presented == "" {
      presented = c.Query("secret")
    }
    if subtle.ConstantTimeCompare([]byte(presented), []byte(wm.secret)) != 1 {
      wm.log.Warn("Webhook rejected: bad secret", "remote", c.ClientIP())
      c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
      return
    }
    c.Next()
  }
}
