package model

import "time"

// JobStatus is the lifecycle state of an external webhook job.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobDone    JobStatus = "done"
	JobError   JobStatus = "error"
)

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	return s == JobPending || s == JobDone || s == JobError
}

// JobSpec names an external callback fired after an entity operation.
type JobSpec struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url"  json:"url"`
}

// EntityJobConfig lists the job specs per operation for one entity.
type EntityJobConfig struct {
	View   []JobSpec `yaml:"view"   json:"view,omitempty"`
	Edit   []JobSpec `yaml:"edit"   json:"edit,omitempty"`
	Delete []JobSpec `yaml:"delete" json:"delete,omitempty"`
	Add    []JobSpec `yaml:"add"    json:"add,omitempty"`
}

// For returns the specs configured for op, or nil.
func (c EntityJobConfig) For(op Operation) []JobSpec {
	switch op {
	case OpView:
		return c.View
	case OpEdit:
		return c.Edit
	case OpDelete:
		return c.Delete
	case OpAdd:
		return c.Add
	}
	return nil
}

// Job is a submitted webhook job. Its status leaves pending only through an
// update event.
type Job struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	URL       string     `json:"url"`
	Status    JobStatus  `json:"status"`
	Entity    EntityType `json:"entity,omitempty"`
	EntityID  string     `json:"entity_id,omitempty"`
	UpdatedAt time.Time  `json:"updated_at,omitzero"`
}

// NewJob is the insert payload for a job row.
type NewJob struct {
	Entity   EntityType
	EntityID string
	Name     string
	URL      string
	Status   JobStatus
}
