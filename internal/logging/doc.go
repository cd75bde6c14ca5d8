// Package logging builds the slog loggers used across podbridge and keeps
// structured field names consistent between components.
package logging
