package storage

// Package storage records notification delivery attempts to SQLite.
//
// This is an audit trail, not state: sessions and timers are intentionally
// in-memory only and a restart drops them. The log exists so an operator
// can answer "did the 12h reminder actually go out" after the fact.
