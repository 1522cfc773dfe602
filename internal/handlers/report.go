package handlers

import (
  "encoding/json"
  "errors"
  "net/http"
  "time"

  "github.com/gin-gonic/gin"

  "github.com/siteinsight/siteinsight-backend/internal/normalization"
  "github.com/siteinsight/siteinsight-backend/internal/services"
  "github.com/siteinsight/siteinsight-backend/internal/types"
)

type ReportHandler struct {
  gen  services.ReportGenerationService
  gate services.AccessGateService
  poll services.PollAdvisory
}

func NewReportHandler(gen services.ReportGenerationService, gate services.AccessGateService, poll services.PollAdvisory) *ReportHandler {
  return &ReportHandler{gen: gen, gate: gate, poll: poll}
}

type createReportRequest struct {
  Site  string `json:"site" binding:"required"`
  Email string `json:"email"`
}

type reportResponse struct {
  Key            string          `json:"key"`
  Status         string          `json:"status"`
  Payload        json.RawMessage `json:"payload,omitempty"`
  Locked         bool            `json:"locked,omitempty"`
  ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
  RegeneratedAt  *time.Time      `json:"regenerated_at,omitempty"`
  PollIntervalMs int             `json:"poll_interval_ms,omitempty"`
  PollCeiling    int             `json:"poll_ceiling,omitempty"`
}

// POST /api/reports
func (h *ReportHandler) Create(c *gin.Context) {
  var req createReportRequest
  if err := c.ShouldBindJSON(&req); err != nil {
    RespondError(c, http.StatusBadRequest, "malformed_input", err)
    return
  }

  report, err := h.gen.EnsureFresh(c.Request.Context(), req.Site)
  if err != nil {
    RespondAPIError(c, err)
    return
  }

  // A cache hit hands back a completed report immediately; the unlock gate
  // applies to it exactly as it does to reads by key.
  unlocked := false
  if email := normalization.NormalizeEmail(req.Email); email != "" {
    unlocked, _ = h.gate.IsUnlocked(c.Request.Context(), report.Key, email)
  }
  RespondOK(c, h.view(report, unlocked))
}

// GET /api/reports/:key
func (h *ReportHandler) Get(c *gin.Context) {
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

  if report.EffectiveStatus(time.Now()) == types.ReportStatusFailed {
    msg := report.Error
    if msg == "" {
      msg = "report generation failed"
    }
    RespondError(c, http.StatusBadGateway, "generation_failed", errors.New(msg))
    return
  }

  unlocked := false
  if email := normalization.NormalizeEmail(c.Query("email")); email != "" {
    unlocked, _ = h.gate.IsUnlocked(c.Request.Context(), key, email)
  }

  RespondOK(c, h.view(report, unlocked))
}

func (h *ReportHandler) view(report *types.Report, unlocked bool) reportResponse {
  now := time.Now()
  resp := reportResponse{
    Key:           report.Key,
    Status:        report.EffectiveStatus(now),
    ExpiresAt:     report.ExpiresAt,
    RegeneratedAt: report.RegeneratedAt,
  }

  switch resp.Status {
  case types.ReportStatusPending, types.ReportStatusProcessing:
    resp.PollIntervalMs = h.poll.IntervalMs
    resp.PollCeiling = h.poll.Ceiling
  case types.ReportStatusCompleted:
    if unlocked {
      resp.Payload = json.RawMessage(report.Payload)
    } else {
      resp.Payload = summaryPayload(report.Payload)
      resp.Locked = true
    }
  }
  return resp
}

// summaryPayload strips the per-provider sections, leaving the headline
// fields visible to callers who have not unlocked the report.
func summaryPayload(raw []byte) json.RawMessage {
  var full map[string]json.RawMessage
  if err := json.Unmarshal(raw, &full); err != nil {
    return nil
  }
  delete(full, "sections")
  out, err := json.Marshal(full)
  if err != nil {
    return nil
  }
  return out
}
