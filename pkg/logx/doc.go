// Package logx is sigbatch's structured logging on top of zerolog.
//
// Console lines go to stderr in zerolog's console format with a short
// file:line caller. The optional file sink gets JSON lines. Service.Apply
// changes level and sinks at runtime; every Logger derived from the Service
// picks the change up.
package logx
