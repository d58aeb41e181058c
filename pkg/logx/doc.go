// Package logx wraps zerolog behind a tiny field-based facade.
//
// Components receive a Logger value and never touch zerolog directly.
// The Service owns the sink set (console, file, chat forwarding) and can
// swap it at runtime via Apply, so loggers handed out earlier stay live
// across config reloads.
package logx
