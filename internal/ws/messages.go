package ws

import "time"

type BaseMessage struct {
	Type string `json:"type"`
}

// Client → Server

type CancelMessage struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
}

// Server → Client

type ProgressMessage struct {
	Type       string   `json:"type"`
	JobID      string   `json:"job_id,omitempty"`
	Processing bool     `json:"processing"`
	Frames     []string `json:"frames"`
}

type HeartbeatMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	JobID string `json:"job_id,omitempty"`
	Error string `json:"error"`
}
