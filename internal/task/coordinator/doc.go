// Package coordinator turns a batch request into task units and runs them
// on a scheduler.
//
// A Coordinator owns at most one live scheduler: starting a batch terminates
// the previous one. Operations (how one unit is computed) come from a
// Registry, either worker commands from config or in-process functions.
// Payloads and results pass through untouched.
package coordinator
