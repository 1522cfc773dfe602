package services

import (
  "bytes"
  "encoding/json"
  "fmt"
  "sort"
  "strings"
  "time"

  "github.com/go-pdf/fpdf"

  "github.com/siteinsight/siteinsight-backend/internal/logger"
  "github.com/siteinsight/siteinsight-backend/internal/types"
)

// PDFRenderer turns a completed report into the downloadable PDF artifact.
// Input is the point-in-time payload plus the provider trace; the layout is
// intentionally plain (summary page + one block per provider section).
type PDFRenderer interface {
  Render(report *types.Report) (bytes.Buffer, error)
}

type pdfRenderer struct {
  log *logger.Logger
}

func NewPDFRenderer(log *logger.Logger) PDFRenderer {
  return &pdfRenderer{log: log.With("service", "PDFRenderer")}
}

type pdfPayload struct {
  Domain      string                     `json:"domain"`
  Score       int                        `json:"score"`
  Sections    map[string]json.RawMessage `json:"sections"`
  GeneratedAt time.Time                  `json:"generated_at"`
}

func (r *pdfRenderer) Render(report *types.Report) (bytes.Buffer, error) {
  var out bytes.Buffer
  if report == nil || len(report.Payload) == 0 {
    return out, fmt.Errorf("report payload required")
  }

  var p pdfPayload
  if err := json.Unmarshal(report.Payload, &p); err != nil {
    return out, fmt.Errorf("decode payload: %w", err)
  }

  var trace types.ProviderTrace
  if len(report.ProviderResults) > 0 {
    _ = json.Unmarshal(report.ProviderResults, &trace)
  }

  pdf := fpdf.New("P", "mm", "A4", "")
  pdf.SetTitle(fmt.Sprintf("SiteInsight report for %s", p.Domain), true)
  pdf.AddPage()

  pdf.SetFont("Helvetica", "B", 24)
  pdf.CellFormat(0, 14, fmt.Sprintf("Site audit: %s", p.Domain), "", 1, "L", false, 0, "")

  pdf.SetFont("Helvetica", "", 11)
  pdf.SetTextColor(100, 100, 100)
  pdf.CellFormat(0, 7, fmt.Sprintf("Generated %s", p.GeneratedAt.Format("2006-01-02 15:04 MST")), "", 1, "L", false, 0, "")
  pdf.Ln(4)

  pdf.SetTextColor(0, 0, 0)
  pdf.SetFont("Helvetica", "B", 16)
  pdf.CellFormat(0, 10, fmt.Sprintf("Overall score: %d/100", p.Score), "", 1, "L", false, 0, "")
  pdf.Ln(6)

  // Deterministic section order.
  names := make([]string, 0, len(p.Sections))
  for name := range p.Sections {
    names = append(names, name)
  }
  sort.Strings(names)

  for _, name := range names {
    pdf.SetFont("Helvetica", "B", 13)
    pdf.CellFormat(0, 9, sectionTitle(name), "B", 1, "L", false, 0, "")
    pdf.Ln(2)

    pdf.SetFont("Courier", "", 9)
    pdf.MultiCell(0, 4.5, indentJSON(p.Sections[name]), "", "L", false)
    pdf.Ln(4)
  }

  if len(trace.Providers) > 0 {
    pdf.AddPage()
    pdf.SetFont("Helvetica", "B", 13)
    pdf.CellFormat(0, 9, "Provider execution", "B", 1, "L", false, 0, "")
    pdf.Ln(2)
    pdf.SetFont("Helvetica", "", 10)
    provNames := make([]string, 0, len(trace.Providers))
    for name := range trace.Providers {
      provNames = append(provNames, name)
    }
    sort.Strings(provNames)
    for _, name := range provNames {
      pr := trace.Providers[name]
      line := fmt.Sprintf("%s: %s (%d ms)", name, pr.Status, pr.LatencyMs)
      if pr.Error != "" {
        line += ": " + pr.Error
      }
      pdf.CellFormat(0, 6, line, "", 1, "L", false, 0, "")
    }
  }

  if err := pdf.Output(&out); err != nil {
    return out, fmt.Errorf("render pdf: %w", err)
  }
  return out, nil
}

func sectionTitle(name string) string {
  switch name {
  case "htmlmeta":
    return "Page metadata"
  case "dns":
    return "DNS"
  case "tls":
    return "TLS certificate"
  default:
    return strings.ToUpper(name[:1]) + name[1:]
  }
}

func indentJSON(raw json.RawMessage) string {
  var buf bytes.Buffer
  if err := json.Indent(&buf, raw, "", "  "); err != nil {
    return string(raw)
  }
  return buf.String()
}
