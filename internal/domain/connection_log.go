package domain

import "time"

type LogType string

const (
	LogInfo    LogType = "info"
	LogSuccess LogType = "success"
	LogWarning LogType = "warning"
	LogError   LogType = "error"
)

func (t LogType) Valid() bool {
	switch t {
	case LogInfo, LogSuccess, LogWarning, LogError:
		return true
	}
	return false
}

// ConnectionLog is one entry of an account's connection trail.
type ConnectionLog struct {
	ID        string                 `json:"id" csv:"id"`
	AccountID string                 `json:"accountId" csv:"account_id"`
	Timestamp time.Time              `json:"timestamp" csv:"timestamp"`
	Message   string                 `json:"message" csv:"message"`
	Type      LogType                `json:"type" csv:"type"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" csv:"-"`
}
