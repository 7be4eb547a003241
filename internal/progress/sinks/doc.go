// Package sinks implements progress consumers: a structured log stream and a
// bounded in-memory per-run event log served by the API.
package sinks
