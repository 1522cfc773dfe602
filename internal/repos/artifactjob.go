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

type ArtifactJobRepo interface {
  Create(ctx context.Context, tx *gorm.DB, job *types.ArtifactJob) (*types.ArtifactJob, error)

  // GetByID returns nil, nil when the job does not exist.
  GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ArtifactJob, error)

  // GetActive returns the queued or running job for (report_key, type), or
  // nil. Callers use it to suppress duplicate enqueues.
  GetActive(ctx context.Context, tx *gorm.DB, reportKey, artifactType string) (*types.ArtifactJob, error)

  // GetLatest returns the newest job for (report_key, type) regardless of
  // status, or nil.
  GetLatest(ctx context.Context, tx *gorm.DB, reportKey, artifactType string) (*types.ArtifactJob, error)

  // ClaimNextRunnable claims one queued job (or a running one with a stale
  // heartbeat) and marks it running.
  ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, staleRunning time.Duration) (*types.ArtifactJob, error)

  UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
  Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type artifactJobRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewArtifactJobRepo(db *gorm.DB, baseLog *logger.Logger) ArtifactJobRepo {
  repoLog := baseLog.With("repo", "ArtifactJobRepo")
  return &artifactJobRepo{db: db, log: repoLog}
}

func (r *artifactJobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.ArtifactJob) (*types.ArtifactJob, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if job == nil {
    return nil, nil
  }
  if job.ID == uuid.Nil {
    job.ID = uuid.New()
  }
  if err := transaction.WithContext(ctx).Create(job).Error; err != nil {
    return nil, err
  }
  return job, nil
}

func (r *artifactJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ArtifactJob, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil, nil
  }
  var job types.ArtifactJob
  err := transaction.WithContext(ctx).Where("id = ?", id).First(&job).Error
  if errors.Is(err, gorm.ErrRecordNotFound) {
    return nil, nil
  }
  if err != nil {
    return nil, err
  }
  return &job, nil
}

func (r *artifactJobRepo) GetActive(ctx context.Context, tx *gorm.DB, reportKey, artifactType string) (*types.ArtifactJob, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var job types.ArtifactJob
  err := transaction.WithContext(ctx).
    Where("report_key = ? AND artifact_type = ? AND status IN ?",
      reportKey, artifactType, []string{types.ArtifactJobStatusQueued, types.ArtifactJobStatusRunning}).
    Order("created_at DESC").
    First(&job).Error
  if errors.Is(err, gorm.ErrRecordNotFound) {
    return nil, nil
  }
  if err != nil {
    return nil, err
  }
  return &job, nil
}

func (r *artifactJobRepo) GetLatest(ctx context.Context, tx *gorm.DB, reportKey, artifactType string) (*types.ArtifactJob, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var job types.ArtifactJob
  err := transaction.WithContext(ctx).
    Where("report_key = ? AND artifact_type = ?", reportKey, artifactType).
    Order("created_at DESC").
    First(&job).Error
  if errors.Is(err, gorm.ErrRecordNotFound) {
    return nil, nil
  }
  if err != nil {
    return nil, err
  }
  return &job, nil
}

func (r *artifactJobRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, staleRunning time.Duration) (*types.ArtifactJob, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }

  now := time.Now()
  staleCutoff := now.Add(-staleRunning)

  var claimed *types.ArtifactJob

  err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
    var job types.ArtifactJob

    q := txx.
      Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
      Where(`
        (
          (status = ? AND attempts < ?)
          OR (
            status = ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
      `, types.ArtifactJobStatusQueued, maxAttempts, types.ArtifactJobStatusRunning, staleCutoff).
      Order("created_at ASC")

    qErr := q.First(&job).Error
    if errors.Is(qErr, gorm.ErrRecordNotFound) {
      return nil
    }
    if qErr != nil {
      return qErr
    }

    uErr := txx.Model(&types.ArtifactJob{}).
      Where("id = ?", job.ID).
      Updates(map[string]interface{}{
        "status":       types.ArtifactJobStatusRunning,
        "attempts":     gorm.Expr("attempts + 1"),
        "locked_at":    now,
        "heartbeat_at": now,
        "updated_at":   now,
      }).Error
    if uErr != nil {
      return uErr
    }

    claimed = &job
    return nil
  })

  if err != nil {
    return nil, err
  }
  return claimed, nil
}

func (r *artifactJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil
  }
  if updates == nil {
    updates = map[string]interface{}{}
  }
  if _, ok := updates["updated_at"]; !ok {
    updates["updated_at"] = time.Now()
  }
  return transaction.WithContext(ctx).
    Model(&types.ArtifactJob{}).
    Where("id = ?", id).
    Updates(updates).Error
}

func (r *artifactJobRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil
  }
  now := time.Now()
  return transaction.WithContext(ctx).
    Model(&types.ArtifactJob{}).
    Where("id = ? AND status = ?", id, types.ArtifactJobStatusRunning).
    Updates(map[string]interface{}{
      "heartbeat_at": now,
      "updated_at":   now,
    }).Error
}
