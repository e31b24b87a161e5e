package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskSchedulerRun = "followup:scheduler_run"

const TaskProcessOrder = "followup:process_order"

const TaskSweepStaleAttempts = "followup:sweep_stale"

type ProcessOrderPayload struct {
	OrderID string `json:"orderId"`
}

func NewSchedulerRunTask() *asynq.Task {
	return asynq.NewTask(TaskSchedulerRun, nil)
}

func NewSweepStaleAttemptsTask() *asynq.Task {
	return asynq.NewTask(TaskSweepStaleAttempts, nil)
}

func NewProcessOrderTask(payload ProcessOrderPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProcessOrder, data), nil
}

func ParseProcessOrderPayload(task *asynq.Task) (ProcessOrderPayload, error) {
	var payload ProcessOrderPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessOrderPayload{}, err
	}
	return payload, nil
}
