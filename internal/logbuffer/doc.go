// Package logbuffer keeps bounded in-memory log histories for pipeline
// tasks. Each task owns a fixed-size ring of recent entries, and the
// registry caps how many tasks are tracked at once, evicting the least
// recently updated task when the cap is exceeded.
package logbuffer
