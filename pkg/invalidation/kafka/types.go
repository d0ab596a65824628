package kafka

import "time"

// WireEvent is the compact producer-side shape: either a single cache
// key or a list of project ids to invalidate.
type WireEvent struct {
	Key      string    `json:"key,omitempty"`
	Org      string    `json:"org,omitempty"`
	Projects []int     `json:"projects,omitempty"`
	Version  uint64    `json:"version"`
	TS       time.Time `json:"ts"`
	Op       string    `json:"op,omitempty"`
}
