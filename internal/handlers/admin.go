package handlers

import (
  "encoding/json"
  "errors"
  "net/http"
  "time"

  "github.com/gin-gonic/gin"

  "github.com/siteinsight/siteinsight-backend/internal/normalization"
  "github.com/siteinsight/siteinsight-backend/internal/services"
)

type AdminHandler struct {
  gen       services.ReportGenerationService
  artifacts services.ArtifactService
}

func NewAdminHandler(gen services.ReportGenerationService, artifacts services.ArtifactService) *AdminHandler {
  return &AdminHandler{gen: gen, artifacts: artifacts}
}

// POST /api/admin/reports/:key/regenerate
func (h *AdminHandler) Regenerate(c *gin.Context) {
  key, err := normalization.NormalizeDomain(c.Param("key"))
  if err != nil {
    RespondAPIError(c, err)
    return
  }

  report, err := h.gen.ForceRegenerate(c.Request.Context(), key)
  if err != nil {
    RespondAPIError(c, err)
    return
  }
  RespondOK(c, gin.H{
    "key":            report.Key,
    "status":         report.Status,
    "regenerated_at": report.RegeneratedAt,
  })
}

// POST /api/admin/reports/:key/artifacts/:type/regenerate
func (h *AdminHandler) RegenerateArtifact(c *gin.Context) {
  key, err := normalization.NormalizeDomain(c.Param("key"))
  if err != nil {
    RespondAPIError(c, err)
    return
  }
  artifactType := ArtifactTypeFromParam(c.Param("type"))
  if artifactType == "" {
    RespondError(c, http.StatusBadRequest, "malformed_input", errors.New("unknown artifact type"))
    return
  }

  // Operator path, no unlock grant involved.
  ticket, err := h.artifacts.ForceRegenerate(c.Request.Context(), key, artifactType, "")
  if err != nil {
    RespondAPIError(c, err)
    return
  }
  RespondOK(c, ticket)
}

// GET /api/admin/reports/:key/diagnostics
func (h *AdminHandler) Diagnostics(c *gin.Context) {
  key, err := normalization.NormalizeDomain(c.Param("key"))
  if err != nil {
    RespondAPIError(c, err)
    return
  }

  report, err := h.gen.Get(c.Request.Context(), key)
  if err != nil {
    RespondAPIError(c, err)
    return
  }

  RespondOK(c, gin.H{
    "key":                report.Key,
    "status":             report.EffectiveStatus(time.Now()),
    "attempts":           report.Attempts,
    "error":              report.Error,
    "last_error_at":      report.LastErrorAt,
    "generation_time_ms": report.GenerationTimeMs,
    "total_cost_usd":     report.TotalCostUSD,
    "view_count":         report.ViewCount,
    "expires_at":         report.ExpiresAt,
    "regenerated_at":     report.RegeneratedAt,
    "provider_results":   json.RawMessage(report.ProviderResults),
    "pdf_url":            report.PDFURL,
    "preview_image_url":  report.PreviewImageURL,
  })
}
