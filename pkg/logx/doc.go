// Package logx configures chatblast's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured, so runs can be audited afterwards
//   - An optional operator sink (Telegram) with a min-level and rate limiting
package logx
