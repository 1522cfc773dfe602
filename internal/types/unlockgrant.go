package types

import (
  "time"
  "github.com/google/uuid"
)

// UnlockGrant is a recorded identity claim gating premium content and
// artifact downloads for one (report, email) pair. The gate is lead capture:
// unlocked flips true on first submission and never reverts.
type UnlockGrant struct {
  ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
  ReportKey string    `gorm:"column:report_key;not null;uniqueIndex:uniq_grant_key_email" json:"report_key"`
  Email     string    `gorm:"column:email;not null;uniqueIndex:uniq_grant_key_email" json:"email"`

  FirstName    string `gorm:"column:first_name" json:"first_name"`
  LastName     string `gorm:"column:last_name" json:"last_name"`
  Organization string `gorm:"column:organization" json:"organization"`

  Unlocked   bool       `gorm:"column:unlocked;not null;default:false" json:"unlocked"`
  UnlockedAt *time.Time `gorm:"column:unlocked_at" json:"unlocked_at,omitempty"`

  // Abuse/audit only, never used for authorization.
  IPAddress string `gorm:"column:ip_address" json:"ip_address,omitempty"`
  UserAgent string `gorm:"column:user_agent" json:"user_agent,omitempty"`

  // Artifact activity, rate-limiting and analytics only.
  PDFGeneratedCount        int64      `gorm:"column:pdf_generated_count;not null;default:0" json:"pdf_generated_count"`
  PDFDownloadCount         int64      `gorm:"column:pdf_download_count;not null;default:0" json:"pdf_download_count"`
  LastPDFGeneratedAt       *time.Time `gorm:"column:last_pdf_generated_at" json:"last_pdf_generated_at,omitempty"`
  LastPDFDownloadedAt      *time.Time `gorm:"column:last_pdf_downloaded_at" json:"last_pdf_downloaded_at,omitempty"`
  PreviewGeneratedCount    int64      `gorm:"column:preview_generated_count;not null;default:0" json:"preview_generated_count"`
  LastPreviewGeneratedAt   *time.Time `gorm:"column:last_preview_generated_at" json:"last_preview_generated_at,omitempty"`

  CreatedAt time.Time `gorm:"not null" json:"created_at"`
  UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (UnlockGrant) TableName() string { return "unlock_grant" }
