// Package services provides shared plumbing for components that talk to
// external collaborators: sentinel error classification and context keys
// used for structured logging.
package services
