package pipeline

import (
	"context"
	"encoding/json"

	"podbridge/internal/aiworker"
)

// Handle tracks a submitted worker job.
type Handle interface {
	Wait(ctx context.Context) (json.RawMessage, error)
}

// Worker is the job-submission surface the drivers depend on. The
// production implementation wraps an injected aiworker.Manager.
type Worker interface {
	Submit(ctx context.Context, episodeID int64, job aiworker.Job, onProgress func(aiworker.Update)) (Handle, error)
}

type managerWorker struct {
	manager *aiworker.Manager
}

// NewManagerWorker adapts an aiworker.Manager to the Worker interface.
func NewManagerWorker(manager *aiworker.Manager) Worker {
	return managerWorker{manager: manager}
}

func (w managerWorker) Submit(ctx context.Context, episodeID int64, job aiworker.Job, onProgress func(aiworker.Update)) (Handle, error) {
	handle, err := w.manager.Submit(ctx, episodeID, job, onProgress)
	if err != nil {
		return nil, err
	}
	return handle, nil
}
