package types

import (
  "encoding/json"
  "time"
)

const (
  ProviderStatusCompleted = "completed"
  ProviderStatusFailed    = "failed"
)

// ProviderResult is the per-provider execution trace of one generation
// attempt: status, error, partial data, cost and latency.
type ProviderResult struct {
  Status      string          `json:"status"`
  Error       string          `json:"error,omitempty"`
  Data        json.RawMessage `json:"data,omitempty"`
  CostUSD     float64         `json:"cost_usd"`
  LatencyMs   int64           `json:"latency_ms"`
  CompletedAt time.Time       `json:"completed_at"`
}

// ProviderTrace is the persisted shape of Report.ProviderResults. Prior
// attempts are archived under Previous, never dropped: diagnostics of
// partial multi-provider failure is a first-class feature.
type ProviderTrace struct {
  Providers map[string]ProviderResult   `json:"providers"`
  Previous  []map[string]ProviderResult `json:"previous,omitempty"`
}
