// Package logctx carries request-scoped log attributes on a context and
// renders them through a slog.Handler wrapper.
package logctx

import (
	"context"
	"log/slog"
)

// Handler adds "req" and "verify" groups to records whose context carries
// RequestData or VerifyData. Empty values are left out.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		if g, ok := group("req",
			"id", rd.RequestID,
			"method", rd.Method,
			"path", rd.Path,
			"remote_addr", rd.RemoteAddr,
			"user_agent", rd.UserAgent,
		); ok {
			r.AddAttrs(g)
		}
	}
	if vd, ok := ctx.Value(verifyDataKey{}).(*VerifyData); ok {
		if g, ok := group("verify",
			"mode", vd.Mode,
			"reason", vd.Reason,
			"sub", vd.Subject,
		); ok {
			r.AddAttrs(g)
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

// group builds a slog group from key/value string pairs, skipping empty
// values. ok is false when nothing remains.
func group(name string, kv ...string) (slog.Attr, bool) {
	var attrs []any
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			attrs = append(attrs, slog.String(kv[i], kv[i+1]))
		}
	}
	return slog.Group(name, attrs...), len(attrs) > 0
}

type requestDataKey struct{}

// RequestData identifies one inbound HTTP request.
type RequestData struct {
	RequestID  string
	Method     string
	Path       string
	RemoteAddr string
	UserAgent  string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

// RequestID returns the id attached by WithRequestData, or "".
func RequestID(ctx context.Context) string {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		return rd.RequestID
	}
	return ""
}

type verifyDataKey struct{}

// VerifyData describes the verification step of a request. Never carries the
// token itself.
type VerifyData struct {
	Mode    string
	Reason  string
	Subject string
}

func WithVerifyData(ctx context.Context, data *VerifyData) context.Context {
	return context.WithValue(ctx, verifyDataKey{}, data)
}
