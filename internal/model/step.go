package model

import "time"

// AgentStep is one immutable entry of a run's history.
type AgentStep struct {
	Step      int        `yaml:"step"                 json:"step"`
	Action    ActionKind `yaml:"action"               json:"action"`
	TargetID  *int       `yaml:"target_id,omitempty"  json:"target_id,omitempty"`
	Reasoning string     `yaml:"reasoning,omitempty"  json:"reasoning,omitempty"`
	Success   bool       `yaml:"success"              json:"success"`
	Error     string     `yaml:"error,omitempty"      json:"error,omitempty"`
	Timestamp time.Time  `yaml:"timestamp"            json:"timestamp"`
	BatchSize int        `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
}
