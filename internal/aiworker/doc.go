// Package aiworker manages the persistent external AI worker process.
//
// The worker is a child process speaking newline-delimited JSON over
// stdin/stdout: the daemon writes one job object per line and the worker
// emits status, progress, and result objects. Jobs carry a monotonically
// increasing id; workers that echo the id get exact correlation, while
// legacy workers fall back to oldest-pending FIFO matching. A worker that
// exits is not restarted automatically; every in-flight request fails
// with ErrWorkerTerminated and the operator decides when to restart.
package aiworker
