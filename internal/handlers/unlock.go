package handlers

import (
  "net/http"

  "github.com/gin-gonic/gin"

  "github.com/siteinsight/siteinsight-backend/internal/normalization"
  "github.com/siteinsight/siteinsight-backend/internal/services"
)

type UnlockHandler struct {
  gate services.AccessGateService
}

func NewUnlockHandler(gate services.AccessGateService) *UnlockHandler {
  return &UnlockHandler{gate: gate}
}

// POST /api/reports/:key/unlock
func (h *UnlockHandler) Unlock(c *gin.Context) {
  key, err := normalization.NormalizeDomain(c.Param("key"))
  if err != nil {
    RespondAPIError(c, err)
    return
  }

  var identity services.UnlockIdentity
  if err := c.ShouldBindJSON(&identity); err != nil {
    RespondError(c, http.StatusBadRequest, "malformed_input", err)
    return
  }

  grant, err := h.gate.RequestUnlock(c.Request.Context(), key, identity)
  if err != nil {
    RespondAPIError(c, err)
    return
  }

  RespondOK(c, gin.H{
    "unlocked":    true,
    "report_key":  grant.ReportKey,
    "email":       grant.Email,
    "unlocked_at": grant.UnlockedAt,
  })
}
