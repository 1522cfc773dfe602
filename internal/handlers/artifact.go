package handlers

import (
  "errors"
  "net/http"

  "github.com/gin-gonic/gin"

  "github.com/siteinsight/siteinsight-backend/internal/apierr"
  "github.com/siteinsight/siteinsight-backend/internal/normalization"
  "github.com/siteinsight/siteinsight-backend/internal/services"
  "github.com/siteinsight/siteinsight-backend/internal/types"
)

type ArtifactHandler struct {
  artifacts services.ArtifactService
  poll      services.PollAdvisory
}

func NewArtifactHandler(artifacts services.ArtifactService, poll services.PollAdvisory) *ArtifactHandler {
  return &ArtifactHandler{artifacts: artifacts, poll: poll}
}

type artifactRequest struct {
  Email string `json:"email" binding:"required"`
}

// POST /api/reports/:key/artifacts/:type
func (h *ArtifactHandler) Generate(c *gin.Context) {
  key, artifactType, ok := h.pathParams(c)
  if !ok {
    return
  }

  var req artifactRequest
  if err := c.ShouldBindJSON(&req); err != nil {
    RespondError(c, http.StatusBadRequest, "malformed_input", err)
    return
  }

  ticket, err := h.artifacts.GetOrGenerate(c.Request.Context(), key, artifactType, req.Email)
  if err != nil {
    RespondAPIError(c, err)
    return
  }
  h.respondTicket(c, ticket)
}

// GET /api/reports/:key/artifacts/:type/status
func (h *ArtifactHandler) Status(c *gin.Context) {
  key, artifactType, ok := h.pathParams(c)
  if !ok {
    return
  }

  status, err := h.artifacts.Status(c.Request.Context(), key, artifactType)
  if err != nil {
    RespondAPIError(c, err)
    return
  }
  RespondOK(c, status)
}

// GET /api/reports/:key/artifacts/:type/download?email=
func (h *ArtifactHandler) Download(c *gin.Context) {
  key, artifactType, ok := h.pathParams(c)
  if !ok {
    return
  }

  url, err := h.artifacts.AuthorizeDownload(c.Request.Context(), key, artifactType, c.Query("email"))
  if err != nil {
    // Download is the one surface where a missing grant reads as forbidden
    // rather than unauthenticated.
    var ae *apierr.Error
    if errors.As(err, &ae) && ae.Code == "access_denied" {
      RespondError(c, http.StatusForbidden, "access_denied", err)
      return
    }
    RespondAPIError(c, err)
    return
  }
  c.Redirect(http.StatusFound, url)
}

// POST /api/reports/:key/artifacts/:type/regenerate
// Only the preview image is publicly regenerable; the PDF variant lives on
// the admin surface.
func (h *ArtifactHandler) RegeneratePreview(c *gin.Context) {
  key, artifactType, ok := h.pathParams(c)
  if !ok {
    return
  }
  if artifactType != types.ArtifactTypePreviewImage {
    RespondError(c, http.StatusBadRequest, "malformed_input", errors.New("only the preview image can be regenerated here"))
    return
  }

  var req artifactRequest
  if err := c.ShouldBindJSON(&req); err != nil {
    RespondError(c, http.StatusBadRequest, "malformed_input", err)
    return
  }

  ticket, err := h.artifacts.ForceRegenerate(c.Request.Context(), key, artifactType, req.Email)
  if err != nil {
    RespondAPIError(c, err)
    return
  }
  h.respondTicket(c, ticket)
}

func (h *ArtifactHandler) respondTicket(c *gin.Context, ticket *services.ArtifactTicket) {
  if ticket.Status == "ready" {
    RespondOK(c, gin.H{
      "status":       ticket.Status,
      "url":          ticket.URL,
      "generated_at": ticket.GeneratedAt,
    })
    return
  }
  RespondOK(c, gin.H{
    "status":           ticket.Status,
    "job_id":           ticket.JobID,
    "poll_interval_ms": h.poll.IntervalMs,
    "poll_ceiling":     h.poll.Ceiling,
  })
}

func (h *ArtifactHandler) pathParams(c *gin.Context) (string, string, bool) {
  key, err := normalization.NormalizeDomain(c.Param("key"))
  if err != nil {
    RespondAPIError(c, err)
    return "", "", false
  }
  artifactType := ArtifactTypeFromParam(c.Param("type"))
  if artifactType == "" {
    RespondError(c, http.StatusBadRequest, "malformed_input", errors.New("unknown artifact type"))
    return "", "", false
  }
  return key, artifactType, true
}

// ArtifactTypeFromParam maps the URL spelling to the stored artifact type.
func ArtifactTypeFromParam(param string) string {
  switch param {
  case "pdf":
    return types.ArtifactTypePDF
  case "preview-image", "preview_image":
    return types.ArtifactTypePreviewImage
  }
  return ""
}
