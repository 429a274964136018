package models

import "time"

// Represents one logged API request
type RequestLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Timestamp      time.Time `gorm:"index" json:"timestamp"`
	RequestID      string    `gorm:"size:128;index" json:"request_id"`
	Method         string    `gorm:"size:10" json:"method"`
	Path           string    `gorm:"index" json:"path"`
	StatusCode     int       `gorm:"index" json:"status_code"`
	ResponseTimeMs int       `json:"response_time_ms"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	Network        string    `gorm:"size:32" json:"network,omitempty"`
}

func (RequestLog) TableName() string {
	return "request_logs"
}
