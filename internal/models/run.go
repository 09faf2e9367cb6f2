package models

import (
	"time"

	"gorm.io/datatypes"
)

// Run statuses shared by both run logs.
const (
	RunStatusDone     = "DONE"
	RunStatusPartial  = "PARTIAL"
	RunStatusNoop     = "NOOP"
	RunStatusBusy     = "BUSY"
	RunStatusError    = "ERROR"
	RunStatusDisabled = "DISABLED"
)

// Run triggers.
const (
	TriggerSchedule    = "schedule"
	TriggerManual      = "manual"
	TriggerAutopublish = "autopublish"
)

// AutopublishRun is one append-only autopublish run record.
type AutopublishRun struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	StartedAt  time.Time      `gorm:"index" json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Trigger    string         `gorm:"size:20" json:"trigger"`
	JobID      *string        `gorm:"size:36;index" json:"job_id"`
	Status     string         `gorm:"size:20;index" json:"status"`
	Result     datatypes.JSON `json:"result"`
}

// DiscoveryRun is one append-only topic discovery run record.
type DiscoveryRun struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	StartedAt   time.Time      `gorm:"index" json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Trigger     string         `gorm:"size:20" json:"trigger"`
	Direction   string         `gorm:"type:text" json:"direction"`
	Status      string         `gorm:"size:20;index" json:"status"`
	FoundCount  int            `json:"found_count"`
	QueuedCount int            `json:"queued_count"`
	Result      datatypes.JSON `json:"result"`
}
