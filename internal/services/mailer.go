package services

import (
  "bytes"
  "context"
  "encoding/json"
  "fmt"
  "net/http"
  "os"
  "strings"
  "time"

  "github.com/siteinsight/siteinsight-backend/internal/logger"
  "github.com/siteinsight/siteinsight-backend/internal/types"
)

// Mailer sends internal lead notifications when a visitor unlocks a report.
// Best-effort only: send failures are logged by callers, never surfaced.
type Mailer interface {
  SendLeadNotification(ctx context.Context, grant *types.UnlockGrant) error
}

type sendgridMailer struct {
  log       *logger.Logger
  client    *http.Client
  baseURL   string
  apiKey    string
  fromEmail string
  fromName  string
  toEmail   string
}

func NewSendgridMailer(log *logger.Logger) Mailer {
  serviceLog := log.With("service", "SendgridMailer")
  apiKey := strings.TrimSpace(os.Getenv("SENDGRID_API_KEY"))
  if apiKey == "" {
    serviceLog.Warn("SENDGRID_API_KEY not set, lead notifications disabled")
  }
  baseURL := strings.TrimSpace(os.Getenv("SENDGRID_BASE_URL"))
  if baseURL == "" {
    baseURL = "https://api.sendgrid.com"
  }
  return &sendgridMailer{
    log:       serviceLog,
    client:    &http.Client{Timeout: 30 * time.Second},
    baseURL:   baseURL,
    apiKey:    apiKey,
    fromEmail: strings.TrimSpace(os.Getenv("SENDGRID_FROM_EMAIL")),
    fromName:  strings.TrimSpace(os.Getenv("SENDGRID_FROM_NAME")),
    toEmail:   strings.TrimSpace(os.Getenv("LEAD_NOTIFY_EMAIL")),
  }
}

func (m *sendgridMailer) SendLeadNotification(ctx context.Context, grant *types.UnlockGrant) error {
  if m.apiKey == "" || m.toEmail == "" || grant == nil {
    return nil
  }

  subject := fmt.Sprintf("New report unlock: %s", grant.ReportKey)
  body := fmt.Sprintf(
    "Report: %s\nEmail: %s\nName: %s %s\nOrganization: %s\n",
    grant.ReportKey, grant.Email, grant.FirstName, grant.LastName, grant.Organization,
  )

  payload := map[string]interface{}{
    "personalizations": []map[string]interface{}{
      {"to": []map[string]string{{"email": m.toEmail}}},
    },
    "from":    map[string]string{"email": m.fromEmail, "name": m.fromName},
    "subject": subject,
    "content": []map[string]string{{"type": "text/plain", "value": body}},
  }
  raw, err := json.Marshal(payload)
  if err != nil {
    return fmt.Errorf("marshal mail payload: %w", err)
  }

  req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v3/mail/send", bytes.NewReader(raw))
  if err != nil {
    return fmt.Errorf("build mail request: %w", err)
  }
  req.Header.Set("Authorization", "Bearer "+m.apiKey)
  req.Header.Set("Content-Type", "application/json")

  resp, err := m.client.Do(req)
  if err != nil {
    return fmt.Errorf("send mail: %w", err)
  }
  defer resp.Body.Close()
  if resp.StatusCode >= 300 {
    return fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
  }
  return nil
}
