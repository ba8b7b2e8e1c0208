// Package logx is educheck's structured logger, a thin layer over zerolog.
//
// Console output is human-readable (short timestamp and file:line caller)
// unless JSON is set. The optional file sink always writes JSON. Level and
// sinks can be swapped at runtime through Service.Apply on config reload.
package logx
