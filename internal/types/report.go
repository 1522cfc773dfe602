package types

import (
  "time"
  "gorm.io/datatypes"
)

// Report status values. "expired" is never stored: a completed report whose
// expires_at has passed is treated as expired at read time.
const (
  ReportStatusPending    = "pending"
  ReportStatusProcessing = "processing"
  ReportStatusCompleted  = "completed"
  ReportStatusFailed     = "failed"
  ReportStatusExpired    = "expired"
)

type Report struct {
  Key           string          `gorm:"column:key;primaryKey" json:"key"`
  RawInput      string          `gorm:"column:raw_input" json:"raw_input"`
  Status        string          `gorm:"column:status;not null;index" json:"status"`

  // Payload is non-null iff status is completed.
  Payload         datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload,omitempty"`
  ProviderResults datatypes.JSON `gorm:"column:provider_results;type:jsonb" json:"provider_results,omitempty"`

  GenerationTimeMs int64   `gorm:"column:generation_time_ms;not null;default:0" json:"generation_time_ms"`
  TotalCostUSD     float64 `gorm:"column:total_cost_usd;not null;default:0" json:"total_cost_usd"`

  ExpiresAt     *time.Time `gorm:"column:expires_at;index" json:"expires_at,omitempty"`
  RegeneratedAt *time.Time `gorm:"column:regenerated_at" json:"regenerated_at,omitempty"`

  // Access telemetry, best-effort.
  LastViewedAt *time.Time `gorm:"column:last_viewed_at" json:"last_viewed_at,omitempty"`
  ViewCount    int64      `gorm:"column:view_count;not null;default:0" json:"view_count"`

  // Derived-artifact cache slots. Null means not yet generated.
  PDFURL                  string     `gorm:"column:pdf_url" json:"pdf_url,omitempty"`
  PDFGeneratedAt          *time.Time `gorm:"column:pdf_generated_at" json:"pdf_generated_at,omitempty"`
  PreviewImageURL         string     `gorm:"column:preview_image_url" json:"preview_image_url,omitempty"`
  PreviewImageGeneratedAt *time.Time `gorm:"column:preview_image_generated_at" json:"preview_image_generated_at,omitempty"`

  // Worker claim/health columns. The report row is the single-flight marker
  // for its own generation.
  Attempts    int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
  Error       string     `gorm:"column:error" json:"error,omitempty"`
  LastErrorAt *time.Time `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
  LockedAt    *time.Time `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
  HeartbeatAt *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`

  CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
  UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Report) TableName() string { return "report" }

// EffectiveStatus maps a completed report past its TTL to expired.
func (r *Report) EffectiveStatus(now time.Time) string {
  if r.Status == ReportStatusCompleted && r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
    return ReportStatusExpired
  }
  return r.Status
}

// Fresh reports true when the report is completed and inside its TTL window.
func (r *Report) Fresh(now time.Time) bool {
  return r.Status == ReportStatusCompleted && r.ExpiresAt != nil && now.Before(*r.ExpiresAt)
}
