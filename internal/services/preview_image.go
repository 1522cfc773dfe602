package services

import (
  "bytes"
  "encoding/json"
  "fmt"
  "image/color"
  "os"
  "strings"

  "github.com/fogleman/gg"
  "github.com/golang/freetype/truetype"
  "golang.org/x/image/font"

  "github.com/siteinsight/siteinsight-backend/internal/logger"
)

// PreviewImageRenderer turns a completed report payload into the 1200x630
// social card PNG that link previews embed.
type PreviewImageRenderer interface {
  Render(payload []byte) (bytes.Buffer, error)
}

type previewImageRenderer struct {
  log *logger.Logger

  headlineFace font.Face
  captionFace  font.Face
  badgeFace    font.Face
}

func NewPreviewImageRenderer(log *logger.Logger) (PreviewImageRenderer, error) {
  serviceLog := log.With("service", "PreviewImageRenderer")

  fontPath := os.Getenv("PREVIEW_FONT")
  if strings.TrimSpace(fontPath) == "" {
    return nil, fmt.Errorf("Env var PREVIEW_FONT is empty")
  }
  serviceLog.Info("Loading preview font", "font", fontPath)

  headline, err := loadFontFace(fontPath, 72)
  if err != nil {
    return nil, fmt.Errorf("could not load preview font: %w", err)
  }
  caption, err := loadFontFace(fontPath, 34)
  if err != nil {
    return nil, fmt.Errorf("could not load preview font: %w", err)
  }
  badge, err := loadFontFace(fontPath, 92)
  if err != nil {
    return nil, fmt.Errorf("could not load preview font: %w", err)
  }

  return &previewImageRenderer{
    log:          serviceLog,
    headlineFace: headline,
    captionFace:  caption,
    badgeFace:    badge,
  }, nil
}

type previewPayload struct {
  Domain string `json:"domain"`
  Score  int    `json:"score"`
}

func (r *previewImageRenderer) Render(payload []byte) (bytes.Buffer, error) {
  var out bytes.Buffer

  var p previewPayload
  if err := json.Unmarshal(payload, &p); err != nil {
    return out, fmt.Errorf("decode payload: %w", err)
  }
  if strings.TrimSpace(p.Domain) == "" {
    return out, fmt.Errorf("payload missing domain")
  }

  const width, height = 1200, 630
  dc := gg.NewContext(width, height)

  dc.SetColor(color.NRGBA{R: 0x0F, G: 0x17, B: 0x2A, A: 0xFF})
  dc.DrawRectangle(0, 0, width, height)
  dc.Fill()

  // Accent band along the bottom edge.
  dc.SetColor(scoreColor(p.Score))
  dc.DrawRectangle(0, height-14, width, 14)
  dc.Fill()

  dc.SetFontFace(r.captionFace)
  dc.SetColor(color.NRGBA{R: 0x94, G: 0xA3, B: 0xB8, A: 0xFF})
  dc.DrawString("SITE AUDIT REPORT", 80, 140)

  dc.SetFontFace(r.headlineFace)
  dc.SetColor(color.White)
  dc.DrawString(truncateHeadline(p.Domain, 24), 80, 260)

  // Score badge.
  badgeX, badgeY, badgeR := float64(width-220), float64(height)/2, 130.0
  dc.SetColor(scoreColor(p.Score))
  dc.DrawCircle(badgeX, badgeY, badgeR)
  dc.Fill()

  dc.SetFontFace(r.badgeFace)
  dc.SetColor(color.White)
  scoreText := fmt.Sprintf("%d", p.Score)
  tw, th := dc.MeasureString(scoreText)
  dc.DrawString(scoreText, badgeX-tw/2, badgeY+th/2-8)

  dc.SetFontFace(r.captionFace)
  dc.SetColor(color.NRGBA{R: 0x94, G: 0xA3, B: 0xB8, A: 0xFF})
  dc.DrawString("siteinsight.io", 80, height-80)

  if err := dc.EncodePNG(&out); err != nil {
    return out, fmt.Errorf("encode png: %w", err)
  }
  return out, nil
}

func scoreColor(score int) color.NRGBA {
  switch {
  case score >= 80:
    return color.NRGBA{R: 0x22, G: 0xC5, B: 0x5E, A: 0xFF}
  case score >= 50:
    return color.NRGBA{R: 0xEA, G: 0xB3, B: 0x08, A: 0xFF}
  default:
    return color.NRGBA{R: 0xEF, G: 0x44, B: 0x44, A: 0xFF}
  }
}

func truncateHeadline(s string, n int) string {
  runes := []rune(s)
  if len(runes) <= n {
    return s
  }
  return string(runes[:n-1]) + "…"
}

func loadFontFace(fontPath string, size float64) (font.Face, error) {
  fontBytes, err := os.ReadFile(fontPath)
  if err != nil {
    return nil, fmt.Errorf("failed to read font file: %w", err)
  }
  parsedFont, err := truetype.Parse(fontBytes)
  if err != nil {
    return nil, fmt.Errorf("failed to parse TTF: %w", err)
  }
  face := truetype.NewFace(parsedFont, &truetype.Options{
    Size:    size,
    DPI:     72,
    Hinting: font.HintingNone,
  })
  return face, nil
}
