package run

import "time"

// Run is one recorded ProcessBatch invocation.
type Run struct {
	ID         string    `json:"id"`
	Limit      int       `json:"limit"`
	Attempted  int       `json:"attempted"`
	Processed  int       `json:"processed"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
