package handlers

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/rigwatch/rigwatch/internal/jobs"
)

// CycleRunner is the reconciliation entrypoint the handler drives.
type CycleRunner interface {
	RunCycle(ctx context.Context) error
}

type RigSyncHandler struct {
	engine CycleRunner
	log    *slog.Logger
}

func NewRigSyncHandler(engine CycleRunner, log *slog.Logger) *RigSyncHandler {
	return &RigSyncHandler{engine: engine, log: log}
}

func (h *RigSyncHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload jobs.RigSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		if h.log != nil {
			h.log.ErrorContext(ctx, "rig sync: failed to decode payload", slog.Any("task_type", t.Type()), slog.String("error", err.Error()))
		}
		return err
	}

	if h.log != nil {
		h.log.InfoContext(ctx, "rig sync triggered",
			slog.String("task_type", t.Type()),
			slog.String("trigger", payload.Trigger),
		)
	}

	return h.engine.RunCycle(ctx)
}
