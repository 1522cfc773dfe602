package services

import (
  "context"
  "encoding/json"
  "fmt"
  "sync"
  "time"

  "golang.org/x/sync/errgroup"
  "gorm.io/gorm"

  "github.com/siteinsight/siteinsight-backend/internal/apierr"
  "github.com/siteinsight/siteinsight-backend/internal/logger"
  "github.com/siteinsight/siteinsight-backend/internal/normalization"
  "github.com/siteinsight/siteinsight-backend/internal/providers"
  "github.com/siteinsight/siteinsight-backend/internal/repos"
  "github.com/siteinsight/siteinsight-backend/internal/types"
)

type ReportGenerationService interface {
  // EnsureFresh returns the report for the normalized key, queueing
  // generation when the record is absent, failed or expired. It never runs
  // generation on the request path and never returns a stale completed
  // report as completed.
  EnsureFresh(ctx context.Context, rawInput string) (*types.Report, error)

  // Get is a read-only lookup by normalized key. Telemetry is touched
  // best-effort; expiry is reported logically, nothing is requeued.
  Get(ctx context.Context, key string) (*types.Report, error)

  // ForceRegenerate requeues a completed or failed report before natural
  // expiry, stamping regenerated_at. Admin path.
  ForceRegenerate(ctx context.Context, key string) (*types.Report, error)

  StartWorker(ctx context.Context)
}

type reportGenerationService struct {
  db         *gorm.DB
  log        *logger.Logger
  reportRepo repos.ReportRepo
  registry   *providers.Registry

  ttl                time.Duration
  minProviderSuccess int
}

func NewReportGenerationService(
  db *gorm.DB,
  baseLog *logger.Logger,
  reportRepo repos.ReportRepo,
  registry *providers.Registry,
  ttl time.Duration,
  minProviderSuccess int,
) ReportGenerationService {
  return &reportGenerationService{
    db:                 db,
    log:                baseLog.With("service", "ReportGenerationService"),
    reportRepo:         reportRepo,
    registry:           registry,
    ttl:                ttl,
    minProviderSuccess: minProviderSuccess,
  }
}

func (s *reportGenerationService) EnsureFresh(ctx context.Context, rawInput string) (*types.Report, error) {
  key, err := normalization.NormalizeDomain(rawInput)
  if err != nil {
    return nil, err
  }

  report, err := s.reportRepo.GetByKey(ctx, nil, key)
  if err != nil {
    return nil, fmt.Errorf("load report: %w", err)
  }

  now := time.Now()

  if report == nil {
    fresh := &types.Report{
      Key:       key,
      RawInput:  rawInput,
      Status:    types.ReportStatusPending,
      CreatedAt: now,
      UpdatedAt: now,
    }
    // On conflict another caller created it first; reload and fall through.
    if err := s.reportRepo.CreatePending(ctx, nil, fresh); err != nil {
      return nil, fmt.Errorf("create report: %w", err)
    }
    report, err = s.reportRepo.GetByKey(ctx, nil, key)
    if err != nil || report == nil {
      return nil, fmt.Errorf("reload report after create: %w", err)
    }
    return report, nil
  }

  if report.Fresh(now) {
    s.touchViewed(key)
    return report, nil
  }

  switch report.Status {
  case types.ReportStatusPending, types.ReportStatusProcessing:
    // Generation already in flight; this caller observes it. Single-flight.
    return report, nil
  }

  // Failed, or completed past TTL: requeue. The conditional update keeps a
  // racing completion from being clobbered.
  archived := archiveTrace(report.ProviderResults)
  requeued, err := s.reportRepo.RequeueIfStale(ctx, nil, key, now, archived)
  if err != nil {
    return nil, fmt.Errorf("requeue report: %w", err)
  }
  if requeued {
    s.log.Info("Report requeued for regeneration", "key", key, "prior_status", report.Status)
  }
  report, err = s.reportRepo.GetByKey(ctx, nil, key)
  if err != nil || report == nil {
    return nil, fmt.Errorf("reload report after requeue: %w", err)
  }
  return report, nil
}

func (s *reportGenerationService) Get(ctx context.Context, key string) (*types.Report, error) {
  report, err := s.reportRepo.GetByKey(ctx, nil, key)
  if err != nil {
    return nil, fmt.Errorf("load report: %w", err)
  }
  if report == nil {
    return nil, fmt.Errorf("%w: %s", apierr.ErrNotFound, key)
  }
  s.touchViewed(key)
  return report, nil
}

func (s *reportGenerationService) ForceRegenerate(ctx context.Context, key string) (*types.Report, error) {
  report, err := s.reportRepo.GetByKey(ctx, nil, key)
  if err != nil {
    return nil, fmt.Errorf("load report: %w", err)
  }
  if report == nil {
    return nil, fmt.Errorf("%w: %s", apierr.ErrNotFound, key)
  }
  archived := archiveTrace(report.ProviderResults)
  if _, err := s.reportRepo.ForceRequeue(ctx, nil, key, time.Now(), archived); err != nil {
    return nil, fmt.Errorf("force requeue: %w", err)
  }
  report, err = s.reportRepo.GetByKey(ctx, nil, key)
  if err != nil || report == nil {
    return nil, fmt.Errorf("reload report: %w", err)
  }
  return report, nil
}

// touchViewed is fire-and-forget: telemetry may be dropped under load
// without correctness impact.
func (s *reportGenerationService) touchViewed(key string) {
  go func() {
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := s.reportRepo.TouchViewed(ctx, key); err != nil {
      s.log.Debug("TouchViewed dropped", "key", key, "error", err)
    }
  }()
}

func (s *reportGenerationService) StartWorker(ctx context.Context) {
  go func() {
    ticker := time.NewTicker(1 * time.Second)
    defer ticker.Stop()

    staleProcessing := 2 * time.Minute

    for {
      select {
      case <-ctx.Done():
        return
      case <-ticker.C:
        report, err := s.reportRepo.ClaimNextRunnable(ctx, nil, staleProcessing)
        if err != nil {
          s.log.Warn("ClaimNextRunnable failed", "error", err)
          continue
        }
        if report == nil {
          continue
        }
        s.generate(ctx, report.Key)
      }
    }
  }()
}

func (s *reportGenerationService) generate(ctx context.Context, key string) {
  log := s.log.With("key", key)

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
        _ = s.reportRepo.Heartbeat(hbCtx, nil, key)
      }
    }
  }()

  start := time.Now()
  results := s.runProviders(ctx, key)

  succeeded := 0
  var totalCost float64
  for _, pr := range results {
    if pr.Status == types.ProviderStatusCompleted {
      succeeded++
    }
    totalCost += pr.CostUSD
  }

  trace := types.ProviderTrace{Providers: results}
  traceJSON, _ := json.Marshal(trace)

  if succeeded < s.minProviderSuccess {
    msg := fmt.Sprintf("only %d/%d providers succeeded (minimum %d)", succeeded, len(results), s.minProviderSuccess)
    applied, err := s.reportRepo.FailGeneration(ctx, nil, key, traceJSON, msg)
    if err != nil {
      log.Error("FailGeneration write failed", "error", err)
      return
    }
    if !applied {
      log.Warn("FailGeneration skipped, report no longer processing")
      return
    }
    log.Warn("Report generation failed", "reason", msg)
    return
  }

  payload := buildPayload(key, results)
  payloadJSON, _ := json.Marshal(payload)

  expiresAt := time.Now().Add(s.ttl)
  applied, err := s.reportRepo.CompleteGeneration(ctx, nil, key, payloadJSON, traceJSON, time.Since(start).Milliseconds(), totalCost, expiresAt)
  if err != nil {
    log.Error("CompleteGeneration write failed", "error", err)
    return
  }
  if !applied {
    // A newer transition won the CAS; this worker's result is discarded.
    log.Warn("CompleteGeneration skipped, report no longer processing")
    return
  }
  log.Info("Report generation completed",
    "providers_succeeded", succeeded,
    "providers_total", len(results),
    "generation_ms", time.Since(start).Milliseconds(),
    "total_cost_usd", totalCost,
  )
}

// runProviders fans out every registered provider concurrently. A provider
// failure is recorded, never propagated: partial multi-provider failure is a
// first-class outcome.
func (s *reportGenerationService) runProviders(ctx context.Context, key string) map[string]types.ProviderResult {
  provs := s.registry.All()
  results := make(map[string]types.ProviderResult, len(provs))

  var mu sync.Mutex
  g, gctx := errgroup.WithContext(ctx)

  for _, p := range provs {
    p := p
    g.Go(func() error {
      start := time.Now()
      data, err := p.Analyze(gctx, key)
      pr := types.ProviderResult{
        CostUSD:     p.CostUSD(),
        LatencyMs:   time.Since(start).Milliseconds(),
        CompletedAt: time.Now(),
      }
      if err != nil {
        pr.Status = types.ProviderStatusFailed
        pr.Error = err.Error()
      } else {
        pr.Status = types.ProviderStatusCompleted
        pr.Data = data
      }
      mu.Lock()
      results[p.Name()] = pr
      mu.Unlock()
      return nil
    })
  }
  _ = g.Wait()

  return results
}

// buildPayload assembles the client-facing report body from the provider
// slices plus a coarse health score.
func buildPayload(key string, results map[string]types.ProviderResult) map[string]interface{} {
  sections := map[string]json.RawMessage{}
  for name, pr := range results {
    if pr.Status == types.ProviderStatusCompleted && len(pr.Data) > 0 {
      sections[name] = pr.Data
    }
  }
  return map[string]interface{}{
    "domain":       key,
    "score":        computeScore(results),
    "sections":     sections,
    "generated_at": time.Now().UTC(),
  }
}

// computeScore: every provider contributes an equal share; a failed provider
// forfeits its share. The per-section data carries the detail.
func computeScore(results map[string]types.ProviderResult) int {
  if len(results) == 0 {
    return 0
  }
  share := 100.0 / float64(len(results))
  score := 0.0
  for _, pr := range results {
    if pr.Status == types.ProviderStatusCompleted {
      score += share
    }
  }
  return int(score + 0.5)
}

// archiveTrace folds the current provider map under "previous" so diagnostics
// of prior attempts survive regeneration.
func archiveTrace(raw []byte) []byte {
  if len(raw) == 0 {
    return nil
  }
  var trace types.ProviderTrace
  if err := json.Unmarshal(raw, &trace); err != nil {
    return nil
  }
  if len(trace.Providers) == 0 {
    return raw
  }
  trace.Previous = append(trace.Previous, trace.Providers)
  trace.Providers = map[string]types.ProviderResult{}
  out, err := json.Marshal(trace)
  if err != nil {
    return nil
  }
  return out
}
