// Package invalidation defines the span-ingest event consumed to
// drop stale cached sample pages.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

type Event struct {
	Version  int       `json:"version"`
	Op       string    `json:"op"`
	Org      string    `json:"org"`
	Projects []int     `json:"projects"`
	TS       time.Time `json:"ts"`
	Source   string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case "ingest", "backfill", "delete":
	default:
		return fmt.Errorf("op must be ingest|backfill|delete")
	}
	if strings.TrimSpace(e.Org) == "" {
		return fmt.Errorf("org is required")
	}
	if len(e.Projects) == 0 {
		return fmt.Errorf("at least one project is required")
	}
	for _, p := range e.Projects {
		if p <= 0 {
			return fmt.Errorf("project ids must be positive, got %d", p)
		}
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}
