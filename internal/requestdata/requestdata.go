package requestdata

import (
  "context"
)

var requestDataKey = struct{}{}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
  return context.WithValue(ctx, requestDataKey, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
  val := ctx.Value(requestDataKey)
  if rd, ok := val.(*RequestData); ok {
    return rd
  }
  return nil
}

// RequestData carries per-request client metadata. IP and user agent feed
// the unlock grant audit fields only, never authorization.
type RequestData struct {
  IPAddress string
  UserAgent string
}
