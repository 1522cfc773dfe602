package middleware

import (
  "fmt"
  "net/http"
  "strings"

  "github.com/gin-gonic/gin"
  "github.com/golang-jwt/jwt/v5"

  "github.com/siteinsight/siteinsight-backend/internal/logger"
)

type AdminAuthMiddleware struct {
  log    *logger.Logger
  secret []byte
}

func NewAdminAuthMiddleware(log *logger.Logger, secret string) *AdminAuthMiddleware {
  middlewareLogger := log.With("Middleware", "AdminAuthMiddleware")
  return &AdminAuthMiddleware{log: middlewareLogger, secret: []byte(secret)}
}

// RequireAdmin accepts a Bearer HS256 token whose "role" claim is "admin".
func (am *AdminAuthMiddleware) RequireAdmin() gin.HandlerFunc {
  return func(c *gin.Context) {
    tokenString := extractBearerToken(c)
    if tokenString == "" {
      c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
        "error": gin.H{"message": "missing or invalid token", "code": "access_denied"},
      })
      return
    }

    claims := jwt.MapClaims{}
    token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
      if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
        return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
      }
      return am.secret, nil
    })
    if err != nil || !token.Valid {
      am.log.Debug("Admin token rejected", "error", err)
      c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
        "error": gin.H{"message": "missing or invalid token", "code": "access_denied"},
      })
      return
    }
    if role, _ := claims["role"].(string); role != "admin" {
      c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
        "error": gin.H{"message": "insufficient role", "code": "access_denied"},
      })
      return
    }
    c.Next()
  }
}

func extractBearerToken(c *gin.Context) string {
  authHeader := c.GetHeader("Authorization")
  if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
    return authHeader[7:]
  }
  return ""
}
