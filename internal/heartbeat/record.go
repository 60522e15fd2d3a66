package heartbeat

import "time"

// AgentStatus is what a worker reports about its own session.
type AgentStatus string

const (
	AgentIdle     AgentStatus = "idle"
	AgentRunning  AgentStatus = "running"
	AgentStopping AgentStatus = "stopping"
)

// Record is one slot's entry in the shared heartbeat file.
type Record struct {
	Status     AgentStatus       `json:"status"`
	TaskID     string            `json:"taskId,omitempty"`
	TaskTitle  string            `json:"taskTitle,omitempty"`
	SessionID  string            `json:"sessionId,omitempty"`
	LastUpdate time.Time         `json:"lastUpdate"`
	StartedAt  time.Time         `json:"startedAt"`
	Beats      int64             `json:"beats"`
	Meta       map[string]string `json:"meta,omitempty"`
}
