package task

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
	// JobDuplicate marks an enqueue that asynq dropped because the same task id was already queued.
	JobDuplicate JobStatus = "duplicate"
)

// Task is the catalog entry of a background task type.
type Task struct {
	ID          string    `gorm:"column:id;primaryKey"`
	Name        string    `gorm:"column:name;uniqueIndex;type:varchar(100);not null"`
	Description string    `gorm:"column:description;type:text"`
	Schedule    string    `gorm:"column:schedule;type:varchar(50)"` // cron format (optional)
	IsActive    bool      `gorm:"column:is_active;default:true"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// Job is one execution of a task. Scope names what it ran over: a period (YYYY-MM) or a creator.
type Job struct {
	ID          string         `gorm:"column:id;primaryKey"`
	TaskID      string         `gorm:"column:task_id;index;not null"`
	Scope       string         `gorm:"column:scope;index"`
	Status      JobStatus      `gorm:"column:status;type:varchar(20);default:'pending'"`
	Attempts    int            `gorm:"column:attempts;not null;default:0"`
	ErrorMsg    string         `gorm:"column:error_msg;type:text"`
	StartedAt   *time.Time     `gorm:"column:started_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at"`
	CreatedAt   time.Time      `gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime"`
	Metadata    datatypes.JSON `gorm:"column:metadata"`
}
