package commands

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"donnabot/internal/storage"
	"donnabot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h with the given middlewares, first one outermost.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if req != nil && !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered",
						logx.Any("panic", r),
						logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if req != nil && !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.Int64("chat", req.Chat.ChatID),
				logx.Int64("from", req.FromID),
				logx.String("cmd", req.Command),
				logx.Dur("dur", d),
			}
			if err != nil {
				logger.Warn("request failed", append(fields, logx.Err(err))...)
				return err
			}
			// Keep INFO useful: quick successes stay at DEBUG.
			if d >= 750*time.Millisecond {
				logger.Info("request ok", fields...)
			} else {
				logger.Debug("request ok", fields...)
			}
			return nil
		}
	}
}

// MWResolveUser upserts the sender's user row and attaches it to the
// request. Handlers may then rely on req.From being current.
func MWResolveUser() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if req.Store == nil {
				return next(ctx, req)
			}
			u, err := req.Store.UpsertUser(ctx, storage.User{
				ID:       req.FromID,
				ChatID:   req.Chat.ChatID,
				Username: req.FromUsername,
			})
			if err != nil {
				_, _ = req.Adapter.SendText(ctx, req.Chat, "storage is unavailable, try again shortly", nil)
				return fmt.Errorf("resolve user: %w", err)
			}
			req.From = u
			return next(ctx, req)
		}
	}
}

// MWAudit records one audit row per executed command. The write uses
// its own deadline so an expired request context cannot lose the row.
func MWAudit() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			if req.Store == nil {
				return err
			}
			entry := storage.AuditEntry{
				At:       start,
				ActorID:  req.FromID,
				Username: req.FromUsername,
				ChatID:   req.Chat.ChatID,
				Command:  req.Command,
				OK:       err == nil,
				TookMS:   time.Since(start).Milliseconds(),
			}
			if err != nil {
				entry.Error = err.Error()
			}
			actx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if aerr := req.Store.AppendAudit(actx, entry); aerr != nil {
				logger := req.Logger
				if logger.IsZero() {
					logger = logx.Nop()
				}
				logger.Debug("audit write failed", logx.Err(aerr))
			}
			return err
		}
	}
}
