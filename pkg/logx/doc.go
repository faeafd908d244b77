// Package logx is surveybot's structured logging wrapper over zerolog.
//
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON
//   - An optional chat sink forwards warnings to an operator chat (min level + rate limit)
package logx
