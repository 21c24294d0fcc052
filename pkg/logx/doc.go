// Package logx wraps zerolog behind a small structured-logging API.
//
// Components hold a Logger (usually derived via With(String("comp", ...)))
// and never touch zerolog directly. The Service owns the sinks (console,
// file) and can be re-applied at runtime on config hot reload; loggers
// created from it stay live across Apply() calls.
package logx
