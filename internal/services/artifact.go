package services

import (
  "bytes"
  "context"
  "fmt"
  "time"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/siteinsight/siteinsight-backend/internal/apierr"
  "github.com/siteinsight/siteinsight-backend/internal/logger"
  "github.com/siteinsight/siteinsight-backend/internal/normalization"
  "github.com/siteinsight/siteinsight-backend/internal/repos"
  "github.com/siteinsight/siteinsight-backend/internal/types"
  "github.com/siteinsight/siteinsight-backend/internal/utils"
)

// PollAdvisory is the polling guidance echoed on generating and pending
// responses. Clients poll at IntervalMs and give up after Ceiling polls;
// the server never cancels background work on their behalf.
type PollAdvisory struct {
  IntervalMs int
  Ceiling    int
}

const (
  defaultPollIntervalMs = 2000
  defaultPollCeiling    = 15
)

func DefaultPollAdvisory() PollAdvisory {
  return PollAdvisory{IntervalMs: defaultPollIntervalMs, Ceiling: defaultPollCeiling}
}

// PollAdvisoryFromEnv reads ARTIFACT_POLL_INTERVAL_MS and
// ARTIFACT_POLL_CEILING, falling back to the defaults.
func PollAdvisoryFromEnv(log *logger.Logger) PollAdvisory {
  return PollAdvisory{
    IntervalMs: utils.GetEnvAsInt("ARTIFACT_POLL_INTERVAL_MS", defaultPollIntervalMs, log),
    Ceiling:    utils.GetEnvAsInt("ARTIFACT_POLL_CEILING", defaultPollCeiling, log),
  }
}

const (
  artifactMaxAttempts  = 3
  artifactStaleRunning = 2 * time.Minute
)

// ArtifactTicket is the synchronous answer to a cache-or-generate request:
// either the cached artifact, or a handle on the job producing it.
type ArtifactTicket struct {
  Status      string     `json:"status"` // ready | generating
  URL         string     `json:"url,omitempty"`
  GeneratedAt *time.Time `json:"generated_at,omitempty"`
  JobID       *uuid.UUID `json:"job_id,omitempty"`
}

type ArtifactStatus struct {
  State          string     `json:"state"` // not_found | report_not_ready | pending | ready
  URL            string     `json:"url,omitempty"`
  GeneratedAt    *time.Time `json:"generated_at,omitempty"`
  Error          string     `json:"error,omitempty"`
  PollIntervalMs int        `json:"poll_interval_ms"`
  PollCeiling    int        `json:"poll_ceiling"`
}

type ArtifactService interface {
  // GetOrGenerate returns the cached artifact when its slot is set; a miss
  // enqueues at most one job per (key, type). Gated behind unlock.
  GetOrGenerate(ctx context.Context, key, artifactType, email string) (*ArtifactTicket, error)

  // Status is the ungated polling read. It never enqueues anything.
  Status(ctx context.Context, key, artifactType string) (*ArtifactStatus, error)

  // ForceRegenerate clears the slot, deletes the stored object best-effort
  // and re-enters the miss path. An empty email marks an operator request
  // and skips the unlock gate.
  ForceRegenerate(ctx context.Context, key, artifactType, email string) (*ArtifactTicket, error)

  // AuthorizeDownload resolves the redirect URL for a stored artifact,
  // enforcing the gate and slot presence.
  AuthorizeDownload(ctx context.Context, key, artifactType, email string) (string, error)

  StartWorker(ctx context.Context)
}

type artifactService struct {
  log        *logger.Logger
  reportRepo repos.ReportRepo
  jobRepo    repos.ArtifactJobRepo
  gate       AccessGateService
  bucket     BucketService
  pdf        PDFRenderer
  preview    PreviewImageRenderer
  poll       PollAdvisory
}

func NewArtifactService(
  baseLog *logger.Logger,
  reportRepo repos.ReportRepo,
  jobRepo repos.ArtifactJobRepo,
  gate AccessGateService,
  bucket BucketService,
  pdf PDFRenderer,
  preview PreviewImageRenderer,
  poll PollAdvisory,
) ArtifactService {
  return &artifactService{
    log:        baseLog.With("service", "ArtifactService"),
    reportRepo: reportRepo,
    jobRepo:    jobRepo,
    gate:       gate,
    bucket:     bucket,
    pdf:        pdf,
    preview:    preview,
    poll:       poll,
  }
}

func (s *artifactService) GetOrGenerate(ctx context.Context, key, artifactType, email string) (*ArtifactTicket, error) {
  if !types.ValidArtifactType(artifactType) {
    return nil, fmt.Errorf("%w: unknown artifact type %q", apierr.ErrMalformedInput, artifactType)
  }
  email = normalization.NormalizeEmail(email)
  if err := s.gate.RequireUnlocked(ctx, key, email); err != nil {
    return nil, err
  }

  report, err := s.requireCompleted(ctx, key)
  if err != nil {
    return nil, err
  }

  // Cache hit: stored artifact, zero job dispatch.
  if url, at := artifactSlot(report, artifactType); url != "" {
    return &ArtifactTicket{Status: "ready", URL: url, GeneratedAt: at}, nil
  }

  ticket, err := s.enqueue(ctx, key, artifactType, email)
  if err != nil {
    return nil, err
  }
  if ticket.Status == "generating" {
    s.gate.RecordArtifactActivity(ctx, key, email, artifactType, false)
  }
  return ticket, nil
}

func (s *artifactService) Status(ctx context.Context, key, artifactType string) (*ArtifactStatus, error) {
  if !types.ValidArtifactType(artifactType) {
    return nil, fmt.Errorf("%w: unknown artifact type %q", apierr.ErrMalformedInput, artifactType)
  }

  status := &ArtifactStatus{
    PollIntervalMs: s.poll.IntervalMs,
    PollCeiling:    s.poll.Ceiling,
  }

  report, err := s.reportRepo.GetByKey(ctx, nil, key)
  if err != nil {
    return nil, fmt.Errorf("load report: %w", err)
  }
  if report == nil {
    status.State = "not_found"
    return status, nil
  }
  if report.EffectiveStatus(time.Now()) != types.ReportStatusCompleted {
    status.State = "report_not_ready"
    return status, nil
  }
  if url, at := artifactSlot(report, artifactType); url != "" {
    status.State = "ready"
    status.URL = url
    status.GeneratedAt = at
    return status, nil
  }

  status.State = "pending"
  // Surface the last failure so pollers can stop early instead of burning
  // the whole ceiling.
  job, err := s.jobRepo.GetActive(ctx, nil, key, artifactType)
  if err != nil {
    return nil, fmt.Errorf("load artifact job: %w", err)
  }
  if job == nil {
    latest, err := s.jobRepo.GetLatest(ctx, nil, key, artifactType)
    if err == nil && latest != nil && latest.Status == types.ArtifactJobStatusFailed {
      status.Error = latest.Error
    }
  }
  return status, nil
}

func (s *artifactService) ForceRegenerate(ctx context.Context, key, artifactType, email string) (*ArtifactTicket, error) {
  if !types.ValidArtifactType(artifactType) {
    return nil, fmt.Errorf("%w: unknown artifact type %q", apierr.ErrMalformedInput, artifactType)
  }
  email = normalization.NormalizeEmail(email)
  if email != "" {
    if err := s.gate.RequireUnlocked(ctx, key, email); err != nil {
      return nil, err
    }
  }

  report, err := s.requireCompleted(ctx, key)
  if err != nil {
    return nil, err
  }

  if url, _ := artifactSlot(report, artifactType); url != "" {
    if err := s.reportRepo.ClearArtifactSlot(ctx, nil, key, artifactType); err != nil {
      return nil, fmt.Errorf("clear artifact slot: %w", err)
    }
    // Old object removal is best-effort; the slot is the source of truth
    // and a leaked object is overwritten by the next render anyway.
    if err := s.bucket.DeleteFile(ctx, artifactObjectKey(key, artifactType)); err != nil {
      s.log.Warn("Stale artifact delete failed", "key", key, "artifact_type", artifactType, "error", err)
    }
  }

  ticket, err := s.enqueue(ctx, key, artifactType, email)
  if err != nil {
    return nil, err
  }
  if ticket.Status == "generating" && email != "" {
    s.gate.RecordArtifactActivity(ctx, key, email, artifactType, false)
  }
  return ticket, nil
}

func (s *artifactService) AuthorizeDownload(ctx context.Context, key, artifactType, email string) (string, error) {
  if !types.ValidArtifactType(artifactType) {
    return "", fmt.Errorf("%w: unknown artifact type %q", apierr.ErrMalformedInput, artifactType)
  }
  email = normalization.NormalizeEmail(email)
  if err := s.gate.RequireUnlocked(ctx, key, email); err != nil {
    return "", err
  }

  report, err := s.reportRepo.GetByKey(ctx, nil, key)
  if err != nil {
    return "", fmt.Errorf("load report: %w", err)
  }
  if report == nil {
    return "", fmt.Errorf("%w: %s", apierr.ErrNotFound, key)
  }
  url, _ := artifactSlot(report, artifactType)
  if url == "" {
    return "", fmt.Errorf("%w: %s artifact not generated for %s", apierr.ErrNotFound, artifactType, key)
  }

  s.gate.RecordArtifactActivity(ctx, key, email, artifactType, true)
  return url, nil
}

// enqueue is the miss path: a check-and-insert under a row lock on the
// report, so concurrent misses converge on one job.
func (s *artifactService) enqueue(ctx context.Context, key, artifactType, email string) (*ArtifactTicket, error) {
  var ticket *ArtifactTicket

  err := s.reportRepo.LockByKey(ctx, key, func(tx *gorm.DB, report *types.Report) error {
    if report == nil {
      return fmt.Errorf("%w: %s", apierr.ErrNotFound, key)
    }

    // Re-check under the lock: a worker may have filled the slot between
    // the unlocked read and here.
    if url, at := artifactSlot(report, artifactType); url != "" {
      ticket = &ArtifactTicket{Status: "ready", URL: url, GeneratedAt: at}
      return nil
    }

    active, err := s.jobRepo.GetActive(ctx, tx, key, artifactType)
    if err != nil {
      return fmt.Errorf("check active job: %w", err)
    }
    if active != nil {
      id := active.ID
      ticket = &ArtifactTicket{Status: "generating", JobID: &id}
      return nil
    }

    job, err := s.jobRepo.Create(ctx, tx, &types.ArtifactJob{
      ReportKey:    key,
      ArtifactType: artifactType,
      Status:       types.ArtifactJobStatusQueued,
      RequestedBy:  email,
    })
    if err != nil {
      return fmt.Errorf("create artifact job: %w", err)
    }
    id := job.ID
    ticket = &ArtifactTicket{Status: "generating", JobID: &id}
    return nil
  })
  if err != nil {
    return nil, err
  }
  return ticket, nil
}

func (s *artifactService) requireCompleted(ctx context.Context, key string) (*types.Report, error) {
  report, err := s.reportRepo.GetByKey(ctx, nil, key)
  if err != nil {
    return nil, fmt.Errorf("load report: %w", err)
  }
  if report == nil {
    return nil, fmt.Errorf("%w: %s", apierr.ErrNotFound, key)
  }
  if report.EffectiveStatus(time.Now()) != types.ReportStatusCompleted {
    return nil, fmt.Errorf("%w: report is %s", apierr.ErrNotReady, report.EffectiveStatus(time.Now()))
  }
  return report, nil
}

func (s *artifactService) StartWorker(ctx context.Context) {
  go func() {
    ticker := time.NewTicker(1 * time.Second)
    defer ticker.Stop()

    for {
      select {
      case <-ctx.Done():
        return
      case <-ticker.C:
        job, err := s.jobRepo.ClaimNextRunnable(ctx, nil, artifactMaxAttempts, artifactStaleRunning)
        if err != nil {
          s.log.Warn("ClaimNextRunnable failed", "error", err)
          continue
        }
        if job == nil {
          continue
        }
        s.runJob(ctx, job)
      }
    }
  }()
}

func (s *artifactService) runJob(ctx context.Context, job *types.ArtifactJob) {
  log := s.log.With("job_id", job.ID.String(), "key", job.ReportKey, "artifact_type", job.ArtifactType)
  start := time.Now()

  hbCtx, stopHeartbeat := context.WithCancel(ctx)
  defer stopHeartbeat()
  go func() {
    t := time.NewTicker(30 * time.Second)
    defer t.Stop()
    for {
      select {
      case <-hbCtx.Done():
        return
      case <-t.C:
        if err := s.jobRepo.Heartbeat(hbCtx, nil, job.ID); err != nil {
          log.Debug("Heartbeat failed", "error", err)
        }
      }
    }
  }()

  report, err := s.reportRepo.GetByKey(ctx, nil, job.ReportKey)
  if err != nil || report == nil {
    s.failJob(ctx, job, fmt.Sprintf("load report: %v", err), log)
    return
  }
  if report.EffectiveStatus(time.Now()) != types.ReportStatusCompleted {
    s.failJob(ctx, job, "report no longer completed", log)
    return
  }

  var buf bytes.Buffer
  var contentType string
  switch job.ArtifactType {
  case types.ArtifactTypePDF:
    buf, err = s.pdf.Render(report)
    contentType = "application/pdf"
  case types.ArtifactTypePreviewImage:
    buf, err = s.preview.Render(report.Payload)
    contentType = "image/png"
  default:
    err = fmt.Errorf("unknown artifact type %q", job.ArtifactType)
  }
  if err != nil {
    s.failJob(ctx, job, fmt.Sprintf("render: %v", err), log)
    return
  }

  objectKey := artifactObjectKey(job.ReportKey, job.ArtifactType)
  if err := s.bucket.UploadFile(ctx, objectKey, contentType, &buf); err != nil {
    s.failJob(ctx, job, fmt.Sprintf("upload: %v", err), log)
    return
  }
  url := s.bucket.GetPublicURL(objectKey)

  now := time.Now()
  if err := s.reportRepo.SetArtifactURL(ctx, nil, job.ReportKey, job.ArtifactType, url, now); err != nil {
    s.failJob(ctx, job, fmt.Sprintf("store artifact url: %v", err), log)
    return
  }

  if err := s.jobRepo.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
    "status": types.ArtifactJobStatusSucceeded,
    "error":  "",
  }); err != nil {
    log.Warn("Job success update failed", "error", err)
  }

  log.Info("Artifact generated", "url", url, "duration_ms", time.Since(start).Milliseconds())
}

// failJob marks the job failed and leaves the artifact slot untouched: a
// failed render never poisons a previously stored artifact.
func (s *artifactService) failJob(ctx context.Context, job *types.ArtifactJob, msg string, log *logger.Logger) {
  log.Warn("Artifact job failed", "error", msg)
  if err := s.jobRepo.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
    "status": types.ArtifactJobStatusFailed,
    "error":  msg,
  }); err != nil {
    log.Warn("Job failure update failed", "error", err)
  }
}

func artifactSlot(report *types.Report, artifactType string) (string, *time.Time) {
  switch artifactType {
  case types.ArtifactTypePDF:
    return report.PDFURL, report.PDFGeneratedAt
  case types.ArtifactTypePreviewImage:
    return report.PreviewImageURL, report.PreviewImageGeneratedAt
  }
  return "", nil
}

func artifactObjectKey(key, artifactType string) string {
  switch artifactType {
  case types.ArtifactTypePDF:
    return fmt.Sprintf("reports/%s/report.pdf", key)
  case types.ArtifactTypePreviewImage:
    return fmt.Sprintf("reports/%s/preview.png", key)
  }
  return fmt.Sprintf("reports/%s/%s", key, artifactType)
}
