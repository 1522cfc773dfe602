package middleware

import (
  "github.com/gin-gonic/gin"
  "github.com/siteinsight/siteinsight-backend/internal/logger"
  "github.com/siteinsight/siteinsight-backend/internal/requestdata"
)

type ClientMetaMiddleware struct {
  log *logger.Logger
}

func NewClientMetaMiddleware(log *logger.Logger) *ClientMetaMiddleware {
  middlewareLogger := log.With("Middleware", "ClientMetaMiddleware")
  return &ClientMetaMiddleware{log: middlewareLogger}
}

// Attach records the caller's IP and user agent on the request context.
// Audit only: nothing downstream makes authorization decisions from it.
func (cm *ClientMetaMiddleware) Attach() gin.HandlerFunc {
  return func(c *gin.Context) {
    ctx := requestdata.WithRequestData(c.Request.Context(), &requestdata.RequestData{
      IPAddress: c.ClientIP(),
      UserAgent: c.Request.UserAgent(),
    })
    c.Request = c.Request.WithContext(ctx)
    c.Next()
  }
}
