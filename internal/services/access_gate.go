package services

import (
  "context"
  "fmt"
  "time"

  "gorm.io/gorm"

  "github.com/siteinsight/siteinsight-backend/internal/apierr"
  "github.com/siteinsight/siteinsight-backend/internal/logger"
  "github.com/siteinsight/siteinsight-backend/internal/normalization"
  "github.com/siteinsight/siteinsight-backend/internal/repos"
  "github.com/siteinsight/siteinsight-backend/internal/requestdata"
  "github.com/siteinsight/siteinsight-backend/internal/types"
)

// UnlockIdentity is the claimed identity submitted with an unlock request.
// It is lead capture, not authentication: no verification step exists and
// the grant flips unlocked immediately.
type UnlockIdentity struct {
  Email        string `json:"email" binding:"required"`
  FirstName    string `json:"first_name"`
  LastName     string `json:"last_name"`
  Organization string `json:"organization"`
}

type AccessGateService interface {
  // RequestUnlock is an idempotent upsert for (report key, email). It fails
  // with ErrNotFound when no report exists for the key.
  RequestUnlock(ctx context.Context, key string, identity UnlockIdentity) (*types.UnlockGrant, error)

  // IsUnlocked is an exact-match lookup on (key, lowercased email). No
  // fuzzy matching, no session binding.
  IsUnlocked(ctx context.Context, key, email string) (bool, error)

  // RequireUnlocked fails closed with ErrAccessDenied.
  RequireUnlocked(ctx context.Context, key, email string) error

  // RecordArtifactActivity bumps the per-grant counters. Analytics and
  // rate-limiting input only; errors are swallowed after logging.
  RecordArtifactActivity(ctx context.Context, key, email, artifactType string, downloaded bool)
}

type accessGateService struct {
  db        *gorm.DB
  log       *logger.Logger
  grantRepo repos.UnlockGrantRepo
  reportRepo repos.ReportRepo
  mailer    Mailer
}

func NewAccessGateService(db *gorm.DB, baseLog *logger.Logger, grantRepo repos.UnlockGrantRepo, reportRepo repos.ReportRepo, mailer Mailer) AccessGateService {
  return &accessGateService{
    db:         db,
    log:        baseLog.With("service", "AccessGateService"),
    grantRepo:  grantRepo,
    reportRepo: reportRepo,
    mailer:     mailer,
  }
}

func (s *accessGateService) RequestUnlock(ctx context.Context, key string, identity UnlockIdentity) (*types.UnlockGrant, error) {
  email := normalization.NormalizeEmail(identity.Email)
  if email == "" {
    return nil, fmt.Errorf("%w: email required", apierr.ErrMalformedInput)
  }

  report, err := s.reportRepo.GetByKey(ctx, nil, key)
  if err != nil {
    return nil, fmt.Errorf("load report: %w", err)
  }
  if report == nil {
    return nil, fmt.Errorf("%w: %s", apierr.ErrNotFound, key)
  }

  now := time.Now()
  grant := &types.UnlockGrant{
    ReportKey:    key,
    Email:        email,
    FirstName:    identity.FirstName,
    LastName:     identity.LastName,
    Organization: identity.Organization,
    Unlocked:     true,
    UnlockedAt:   &now,
  }
  if rd := requestdata.GetRequestData(ctx); rd != nil {
    grant.IPAddress = rd.IPAddress
    grant.UserAgent = rd.UserAgent
  }

  saved, err := s.grantRepo.Upsert(ctx, nil, grant)
  if err != nil {
    return nil, fmt.Errorf("upsert grant: %w", err)
  }

  s.log.Info("Report unlocked", "key", key, "email", email)

  // Lead notification is best-effort and must not delay the response.
  go func() {
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()
    if err := s.mailer.SendLeadNotification(ctx, saved); err != nil {
      s.log.Warn("Lead notification failed", "key", key, "error", err)
    }
  }()

  return saved, nil
}

func (s *accessGateService) IsUnlocked(ctx context.Context, key, email string) (bool, error) {
  email = normalization.NormalizeEmail(email)
  if email == "" {
    return false, nil
  }
  grant, err := s.grantRepo.GetByKeyEmail(ctx, nil, key, email)
  if err != nil {
    return false, fmt.Errorf("load grant: %w", err)
  }
  return grant != nil && grant.Unlocked, nil
}

func (s *accessGateService) RequireUnlocked(ctx context.Context, key, email string) error {
  unlocked, err := s.IsUnlocked(ctx, key, email)
  if err != nil {
    return err
  }
  if !unlocked {
    return fmt.Errorf("%w: %s", apierr.ErrAccessDenied, key)
  }
  return nil
}

func (s *accessGateService) RecordArtifactActivity(ctx context.Context, key, email, artifactType string, downloaded bool) {
  email = normalization.NormalizeEmail(email)
  if err := s.grantRepo.IncrementArtifactActivity(ctx, nil, key, email, artifactType, downloaded); err != nil {
    s.log.Debug("Artifact activity increment dropped", "key", key, "error", err)
  }
}
