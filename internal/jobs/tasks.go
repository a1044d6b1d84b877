package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeRigSync = "rigs:sync"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// Trigger names the origin of a sync task for logging.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

type RigSyncPayload struct {
	Trigger string `json:"trigger"`
}

func NewRigSyncTask(trigger string) (*asynq.Task, error) {
	payload, err := json.Marshal(RigSyncPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypeRigSync, payload, asynq.Queue(QueueDefault)), nil
}
