package repos

import (
  "context"
  "errors"
  "time"

  "github.com/google/uuid"
  "gorm.io/gorm"
  "gorm.io/gorm/clause"

  "github.com/siteinsight/siteinsight-backend/internal/logger"
  "github.com/siteinsight/siteinsight-backend/internal/types"
)

type UnlockGrantRepo interface {
  // Upsert creates or refreshes the grant for (report_key, email). The
  // unlocked flag only ever moves false -> true; identity fields are
  // refreshed from the latest submission.
  Upsert(ctx context.Context, tx *gorm.DB, grant *types.UnlockGrant) (*types.UnlockGrant, error)

  // GetByKeyEmail returns nil, nil when no grant exists. Email must already
  // be normalized (lowercased) by the caller.
  GetByKeyEmail(ctx context.Context, tx *gorm.DB, reportKey, email string) (*types.UnlockGrant, error)

  // IncrementArtifactActivity bumps the generated/downloaded counters for
  // one artifact type. Additive only.
  IncrementArtifactActivity(ctx context.Context, tx *gorm.DB, reportKey, email, artifactType string, downloaded bool) error
}

type unlockGrantRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewUnlockGrantRepo(db *gorm.DB, baseLog *logger.Logger) UnlockGrantRepo {
  repoLog := baseLog.With("repo", "UnlockGrantRepo")
  return &unlockGrantRepo{db: db, log: repoLog}
}

func (r *unlockGrantRepo) Upsert(ctx context.Context, tx *gorm.DB, grant *types.UnlockGrant) (*types.UnlockGrant, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if grant == nil {
    return nil, nil
  }
  if grant.ID == uuid.Nil {
    grant.ID = uuid.New()
  }
  now := time.Now()
  grant.UpdatedAt = now
  if grant.CreatedAt.IsZero() {
    grant.CreatedAt = now
  }

  err := transaction.WithContext(ctx).
    Clauses(clause.OnConflict{
      Columns: []clause.Column{{Name: "report_key"}, {Name: "email"}},
      DoUpdates: clause.Assignments(map[string]interface{}{
        "first_name":   grant.FirstName,
        "last_name":    grant.LastName,
        "organization": grant.Organization,
        "ip_address":   grant.IPAddress,
        "user_agent":   grant.UserAgent,
        "unlocked":     true,
        "updated_at":   now,
      }),
    }).
    Create(grant).Error
  if err != nil {
    return nil, err
  }

  return r.GetByKeyEmail(ctx, transaction, grant.ReportKey, grant.Email)
}

func (r *unlockGrantRepo) GetByKeyEmail(ctx context.Context, tx *gorm.DB, reportKey, email string) (*types.UnlockGrant, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if reportKey == "" || email == "" {
    return nil, nil
  }
  var grant types.UnlockGrant
  err := transaction.WithContext(ctx).
    Where("report_key = ? AND email = ?", reportKey, email).
    First(&grant).Error
  if errors.Is(err, gorm.ErrRecordNotFound) {
    return nil, nil
  }
  if err != nil {
    return nil, err
  }
  return &grant, nil
}

func (r *unlockGrantRepo) IncrementArtifactActivity(ctx context.Context, tx *gorm.DB, reportKey, email, artifactType string, downloaded bool) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  now := time.Now()
  updates := map[string]interface{}{"updated_at": now}
  switch {
  case artifactType == types.ArtifactTypePDF && downloaded:
    updates["pdf_download_count"] = gorm.Expr("pdf_download_count + 1")
    updates["last_pdf_downloaded_at"] = now
  case artifactType == types.ArtifactTypePDF:
    updates["pdf_generated_count"] = gorm.Expr("pdf_generated_count + 1")
    updates["last_pdf_generated_at"] = now
  case artifactType == types.ArtifactTypePreviewImage:
    updates["preview_generated_count"] = gorm.Expr("preview_generated_count + 1")
    updates["last_preview_generated_at"] = now
  default:
    return nil
  }
  return transaction.WithContext(ctx).
    Model(&types.UnlockGrant{}).
    Where("report_key = ? AND email = ?", reportKey, email).
    Updates(updates).Error
}
