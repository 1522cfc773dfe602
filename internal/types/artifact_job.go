package types

import (
  "time"
  "github.com/google/uuid"
)

const (
  ArtifactTypePDF          = "pdf"
  ArtifactTypePreviewImage = "preview_image"
)

const (
  ArtifactJobStatusQueued    = "queued"
  ArtifactJobStatusRunning   = "running"
  ArtifactJobStatusSucceeded = "succeeded"
  ArtifactJobStatusFailed    = "failed"
)

// ArtifactJob is one background render of a derived artifact. The job row is
// both the polling handle returned to clients and the per-(key, type)
// single-flight marker: at most one queued/running job may exist per pair.
type ArtifactJob struct {
  ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
  ReportKey    string    `gorm:"column:report_key;not null;index" json:"report_key"`
  ArtifactType string    `gorm:"column:artifact_type;not null;index" json:"artifact_type"`

  Status      string     `gorm:"column:status;not null;index" json:"status"` // queued|running|succeeded|failed
  Error       string     `gorm:"column:error" json:"error,omitempty"`
  Attempts    int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
  LockedAt    *time.Time `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
  HeartbeatAt *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`

  RequestedBy string `gorm:"column:requested_by" json:"requested_by,omitempty"`

  CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
  UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ArtifactJob) TableName() string { return "artifact_job" }

func ValidArtifactType(t string) bool {
  return t == ArtifactTypePDF || t == ArtifactTypePreviewImage
}
