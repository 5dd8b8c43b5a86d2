package core

import "context"

type contextKey struct{}

// Uploader identifies who sent an upload. It only feeds the ingestion log.
type Uploader struct {
	IP        string
	UserAgent string
}

// WithUploader attaches the uploader to ctx.
func WithUploader(ctx context.Context, u Uploader) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// UploaderFromContext returns the uploader stored by WithUploader, if any.
func UploaderFromContext(ctx context.Context) (Uploader, bool) {
	u, ok := ctx.Value(contextKey{}).(Uploader)
	return u, ok
}

// logFields returns the uploader as slog key/value pairs.
func (u Uploader) logFields() []any {
	return []any{"client_ip", u.IP, "user_agent", u.UserAgent}
}
