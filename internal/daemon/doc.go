// Package daemon coordinates the long-running podbridge services: the
// single-instance lock, the download runner, the AI worker process, the
// progress heartbeat, and the local HTTP API.
package daemon
