// Package logging provides structured file logging with size-based rotation.
// Logs are JSON lines written to ~/.ambiance/logs/server.log. In MCP stdio
// mode stdout belongs to the protocol, so stderr mirroring is opt-in.
package logging
