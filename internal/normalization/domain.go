package normalization

import (
  "fmt"
  "net/url"
  "strings"

  "github.com/siteinsight/siteinsight-backend/internal/apierr"
)

// NormalizeDomain canonicalizes a user-supplied site identifier into the
// cache key for the whole pipeline: lowercase hostname, no scheme, no www.,
// no port, no path. The same human-intended site must always normalize to
// the same key.
func NormalizeDomain(input string) (string, error) {
  raw := strings.ToLower(strings.TrimSpace(input))
  if raw == "" {
    return "", fmt.Errorf("%w: empty input", apierr.ErrMalformedInput)
  }

  // url.Parse treats a bare hostname as a path; force a scheme first.
  if !strings.Contains(raw, "://") {
    raw = "https://" + raw
  }
  u, err := url.Parse(raw)
  if err != nil || u.Host == "" {
    return "", fmt.Errorf("%w: unparseable input %q", apierr.ErrMalformedInput, input)
  }

  host := u.Hostname()
  host = strings.TrimPrefix(host, "www.")
  host = strings.TrimSuffix(host, ".")
  if host == "" {
    return "", fmt.Errorf("%w: empty host in %q", apierr.ErrMalformedInput, input)
  }
  if !strings.Contains(host, ".") {
    return "", fmt.Errorf("%w: %q is not a hostname", apierr.ErrMalformedInput, input)
  }
  for _, label := range strings.Split(host, ".") {
    if label == "" {
      return "", fmt.Errorf("%w: malformed hostname %q", apierr.ErrMalformedInput, input)
    }
  }
  if strings.ContainsAny(host, " \t_!@#$%^&*()+=[]{};'\",<>?|\\/") {
    return "", fmt.Errorf("%w: invalid characters in %q", apierr.ErrMalformedInput, input)
  }
  return host, nil
}

// NormalizeEmail lowercases and trims an email for exact-match grant lookups.
func NormalizeEmail(email string) string {
  return strings.ToLower(strings.TrimSpace(email))
}
