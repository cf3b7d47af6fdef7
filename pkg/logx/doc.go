// Package logx configures structured logging for forwarder and eventhandler runs.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured, one file per runner
//   - Independent thresholds for console and file
package logx
