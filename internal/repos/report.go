package repos

import (
  "context"
  "errors"
  "time"

  "gorm.io/gorm"
  "gorm.io/gorm/clause"

  "github.com/siteinsight/siteinsight-backend/internal/logger"
  "github.com/siteinsight/siteinsight-backend/internal/types"
)

type ReportRepo interface {
  // GetByKey returns nil, nil when no report exists for the key.
  GetByKey(ctx context.Context, tx *gorm.DB, key string) (*types.Report, error)

  // LockByKey runs fn inside a transaction holding a row lock on the
  // report. fn receives nil when no report exists for the key.
  LockByKey(ctx context.Context, key string, fn func(tx *gorm.DB, report *types.Report) error) error

  // CreatePending inserts a pending report. Safe under concurrent callers:
  // a conflicting insert is ignored and the existing row wins.
  CreatePending(ctx context.Context, tx *gorm.DB, report *types.Report) error

  // TouchViewed bumps the access telemetry. Best-effort: callers fire it on
  // a goroutine and drop errors.
  TouchViewed(ctx context.Context, key string) error

  // RequeueIfStale moves failed, or completed-and-expired, reports back to
  // pending so the worker regenerates them. regenerated_at is stamped when
  // the prior state was completed. archivedTrace replaces provider_results
  // (current attempt folded under "previous"); pass nil to keep it.
  // Conditional update: a fresh completed report is never clobbered.
  RequeueIfStale(ctx context.Context, tx *gorm.DB, key string, now time.Time, archivedTrace []byte) (bool, error)

  // ForceRequeue regenerates regardless of expiry. Admin path.
  ForceRequeue(ctx context.Context, tx *gorm.DB, key string, now time.Time, archivedTrace []byte) (bool, error)

  // ClaimNextRunnable picks one generatable report (pending, or processing
  // with a stale heartbeat) and marks it processing. SKIP LOCKED keeps
  // multiple instances from claiming the same key.
  ClaimNextRunnable(ctx context.Context, tx *gorm.DB, staleProcessing time.Duration) (*types.Report, error)

  // CompleteGeneration and FailGeneration are CAS transitions out of
  // processing; both report whether the transition applied.
  CompleteGeneration(ctx context.Context, tx *gorm.DB, key string, payload, providerResults []byte, generationTimeMs int64, totalCostUSD float64, expiresAt time.Time) (bool, error)
  FailGeneration(ctx context.Context, tx *gorm.DB, key string, providerResults []byte, errMsg string) (bool, error)

  Heartbeat(ctx context.Context, tx *gorm.DB, key string) error

  // SetArtifactURL is the only write path that fills an artifact cache slot.
  SetArtifactURL(ctx context.Context, tx *gorm.DB, key, artifactType, url string, generatedAt time.Time) error
  ClearArtifactSlot(ctx context.Context, tx *gorm.DB, key, artifactType string) error
}

type reportRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewReportRepo(db *gorm.DB, baseLog *logger.Logger) ReportRepo {
  repoLog := baseLog.With("repo", "ReportRepo")
  return &reportRepo{db: db, log: repoLog}
}

func (r *reportRepo) GetByKey(ctx context.Context, tx *gorm.DB, key string) (*types.Report, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if key == "" {
    return nil, nil
  }
  var report types.Report
  err := transaction.WithContext(ctx).Where("key = ?", key).First(&report).Error
  if errors.Is(err, gorm.ErrRecordNotFound) {
    return nil, nil
  }
  if err != nil {
    return nil, err
  }
  return &report, nil
}

func (r *reportRepo) LockByKey(ctx context.Context, key string, fn func(tx *gorm.DB, report *types.Report) error) error {
  return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    var report types.Report
    err := tx.
      Clauses(clause.Locking{Strength: "UPDATE"}).
      Where("key = ?", key).
      First(&report).Error
    if errors.Is(err, gorm.ErrRecordNotFound) {
      return fn(tx, nil)
    }
    if err != nil {
      return err
    }
    return fn(tx, &report)
  })
}

func (r *reportRepo) CreatePending(ctx context.Context, tx *gorm.DB, report *types.Report) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if report == nil {
    return nil
  }
  return transaction.WithContext(ctx).
    Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, DoNothing: true}).
    Create(report).Error
}

func (r *reportRepo) TouchViewed(ctx context.Context, key string) error {
  now := time.Now()
  return r.db.WithContext(ctx).
    Model(&types.Report{}).
    Where("key = ?", key).
    Updates(map[string]interface{}{
      "view_count":     gorm.Expr("view_count + 1"),
      "last_viewed_at": now,
    }).Error
}

func (r *reportRepo) RequeueIfStale(ctx context.Context, tx *gorm.DB, key string, now time.Time, archivedTrace []byte) (bool, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }

  // Completed past TTL: stamp regenerated_at. The stale payload is
  // cleared, only completed rows carry one.
  updates := map[string]interface{}{
    "status":         types.ReportStatusPending,
    "payload":        nil,
    "attempts":       0,
    "error":          "",
    "regenerated_at": now,
    "updated_at":     now,
  }
  if archivedTrace != nil {
    updates["provider_results"] = archivedTrace
  }
  res := transaction.WithContext(ctx).
    Model(&types.Report{}).
    Where("key = ? AND status = ? AND expires_at IS NOT NULL AND expires_at < ?",
      key, types.ReportStatusCompleted, now).
    Updates(updates)
  if res.Error != nil {
    return false, res.Error
  }
  if res.RowsAffected > 0 {
    return true, nil
  }

  // Failed: plain retry, no regenerated_at stamp.
  failedUpdates := map[string]interface{}{
    "status":     types.ReportStatusPending,
    "attempts":   0,
    "error":      "",
    "updated_at": now,
  }
  if archivedTrace != nil {
    failedUpdates["provider_results"] = archivedTrace
  }
  res = transaction.WithContext(ctx).
    Model(&types.Report{}).
    Where("key = ? AND status = ?", key, types.ReportStatusFailed).
    Updates(failedUpdates)
  if res.Error != nil {
    return false, res.Error
  }
  return res.RowsAffected > 0, nil
}

func (r *reportRepo) ForceRequeue(ctx context.Context, tx *gorm.DB, key string, now time.Time, archivedTrace []byte) (bool, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  updates := map[string]interface{}{
    "status":         types.ReportStatusPending,
    "payload":        nil,
    "attempts":       0,
    "error":          "",
    "regenerated_at": now,
    "updated_at":     now,
  }
  if archivedTrace != nil {
    updates["provider_results"] = archivedTrace
  }
  res := transaction.WithContext(ctx).
    Model(&types.Report{}).
    Where("key = ? AND status IN ?", key, []string{types.ReportStatusCompleted, types.ReportStatusFailed}).
    Updates(updates)
  if res.Error != nil {
    return false, res.Error
  }
  return res.RowsAffected > 0, nil
}

func (r *reportRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, staleProcessing time.Duration) (*types.Report, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }

  now := time.Now()
  staleCutoff := now.Add(-staleProcessing)

  var claimed *types.Report

  err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
    var report types.Report

    q := txx.
      Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
      Where(`
        (
          status = ?
          OR (
            status = ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
      `, types.ReportStatusPending, types.ReportStatusProcessing, staleCutoff).
      Order("updated_at ASC")

    qErr := q.First(&report).Error
    if errors.Is(qErr, gorm.ErrRecordNotFound) {
      return nil
    }
    if qErr != nil {
      return qErr
    }

    uErr := txx.Model(&types.Report{}).
      Where("key = ?", report.Key).
      Updates(map[string]interface{}{
        "status":       types.ReportStatusProcessing,
        "attempts":     gorm.Expr("attempts + 1"),
        "locked_at":    now,
        "heartbeat_at": now,
        "updated_at":   now,
      }).Error
    if uErr != nil {
      return uErr
    }

    claimed = &report
    return nil
  })

  if err != nil {
    return nil, err
  }
  return claimed, nil
}

func (r *reportRepo) CompleteGeneration(ctx context.Context, tx *gorm.DB, key string, payload, providerResults []byte, generationTimeMs int64, totalCostUSD float64, expiresAt time.Time) (bool, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  now := time.Now()
  res := transaction.WithContext(ctx).
    Model(&types.Report{}).
    Where("key = ? AND status = ?", key, types.ReportStatusProcessing).
    Updates(map[string]interface{}{
      "status":             types.ReportStatusCompleted,
      "payload":            payload,
      "provider_results":   providerResults,
      "generation_time_ms": generationTimeMs,
      "total_cost_usd":     totalCostUSD,
      "expires_at":         expiresAt,
      "error":              "",
      "locked_at":          nil,
      "updated_at":         now,
    })
  if res.Error != nil {
    return false, res.Error
  }
  return res.RowsAffected > 0, nil
}

func (r *reportRepo) FailGeneration(ctx context.Context, tx *gorm.DB, key string, providerResults []byte, errMsg string) (bool, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  now := time.Now()
  updates := map[string]interface{}{
    "status":        types.ReportStatusFailed,
    "payload":       nil,
    "error":         errMsg,
    "last_error_at": now,
    "locked_at":     nil,
    "updated_at":    now,
  }
  if providerResults != nil {
    updates["provider_results"] = providerResults
  }
  res := transaction.WithContext(ctx).
    Model(&types.Report{}).
    Where("key = ? AND status = ?", key, types.ReportStatusProcessing).
    Updates(updates)
  if res.Error != nil {
    return false, res.Error
  }
  return res.RowsAffected > 0, nil
}

func (r *reportRepo) Heartbeat(ctx context.Context, tx *gorm.DB, key string) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  now := time.Now()
  return transaction.WithContext(ctx).
    Model(&types.Report{}).
    Where("key = ? AND status = ?", key, types.ReportStatusProcessing).
    Updates(map[string]interface{}{
      "heartbeat_at": now,
      "updated_at":   now,
    }).Error
}

func (r *reportRepo) SetArtifactURL(ctx context.Context, tx *gorm.DB, key, artifactType, url string, generatedAt time.Time) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  updates := map[string]interface{}{"updated_at": time.Now()}
  switch artifactType {
  case types.ArtifactTypePDF:
    updates["pdf_url"] = url
    updates["pdf_generated_at"] = generatedAt
  case types.ArtifactTypePreviewImage:
    updates["preview_image_url"] = url
    updates["preview_image_generated_at"] = generatedAt
  default:
    return nil
  }
  return transaction.WithContext(ctx).
    Model(&types.Report{}).
    Where("key = ?", key).
    Updates(updates).Error
}

func (r *reportRepo) ClearArtifactSlot(ctx context.Context, tx *gorm.DB, key, artifactType string) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  updates := map[string]interface{}{"updated_at": time.Now()}
  switch artifactType {
  case types.ArtifactTypePDF:
    updates["pdf_url"] = ""
    updates["pdf_generated_at"] = nil
  case types.ArtifactTypePreviewImage:
    updates["preview_image_url"] = ""
    updates["preview_image_generated_at"] = nil
  default:
    return nil
  }
  return transaction.WithContext(ctx).
    Model(&types.Report{}).
    Where("key = ?", key).
    Updates(updates).Error
}
