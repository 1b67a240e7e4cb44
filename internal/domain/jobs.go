package domain

import (
	"context"
	"time"
)

// SyncJobCause описывает источник запроса на синхронизацию.
type SyncJobCause string

const (
	// SyncCauseManual — синхронизацию запросили через API.
	SyncCauseManual SyncJobCause = "manual"
	// SyncCauseScheduled — синхронизация запланирована по расписанию.
	SyncCauseScheduled SyncJobCause = "scheduled"
)

// SyncJob содержит информацию о задаче синхронизации.
type SyncJob struct {
	ID           string       `json:"job_id,omitempty"`
	JobName      string       `json:"job_name"`
	LookbackDays int          `json:"lookback_days,omitempty"`
	MaxItems     int          `json:"max_items,omitempty"`
	RequestedAt  time.Time    `json:"requested_at"`
	Cause        SyncJobCause `json:"cause"`
}

// SyncQueue описывает очередь задач синхронизации.
type SyncQueue interface {
	Enqueue(ctx context.Context, job SyncJob) error
	Pop(ctx context.Context) (SyncJob, error)
}
