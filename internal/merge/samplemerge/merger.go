// Package samplemerge combines per-segment sample pages into one
// response body of the shape {"data":[...]}.
package samplemerge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spanlab/span-sample-gateway/internal/merge"
)

type Merger struct {
	// DeduplicateBySpanID drops repeated rows sharing a span_id, which
	// can happen when a span sits exactly on a segment boundary.
	DeduplicateBySpanID bool

	// SortByTimestamp orders the merged rows by their timestamp field
	// when every row carries one.
	SortByTimestamp bool
}

var _ merge.Interface = (*Merger)(nil)

func New() *Merger {
	return &Merger{DeduplicateBySpanID: true, SortByTimestamp: true}
}

type row struct {
	raw       json.RawMessage
	timestamp string
}

func (m *Merger) Merge(parts [][]byte) ([]byte, error) {
	if len(parts) == 0 {
		return []byte(`{"data":[]}`), nil
	}

	rows := make([]row, 0, 64)
	seen := map[string]struct{}{}
	sortable := true

	for i, p := range parts {
		var root struct {
			Data []json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(p, &root); err != nil {
			return nil, fmt.Errorf("part %d: parse json: %w", i, err)
		}
		if root.Data == nil {
			return nil, fmt.Errorf(`part %d: missing required member "data"`, i)
		}

		for j, rr := range root.Data {
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(rr, &fields); err != nil {
				return nil, fmt.Errorf("part %d row %d: not a JSON object: %w", i, j, err)
			}

			if m.DeduplicateBySpanID {
				if id := stringField(fields, "span_id"); id != "" {
					if _, dup := seen[id]; dup {
						continue
					}
					seen[id] = struct{}{}
				}
			}

			ts := stringField(fields, "timestamp")
			if ts == "" {
				sortable = false
			}
			rows = append(rows, row{raw: rr, timestamp: ts})
		}
	}

	if m.SortByTimestamp && sortable {
		// RFC3339 timestamps sort correctly as strings
		sort.SliceStable(rows, func(a, b int) bool {
			return rows[a].timestamp < rows[b].timestamp
		})
	}

	out := struct {
		Data []json.RawMessage `json:"data"`
	}{Data: make([]json.RawMessage, 0, len(rows))}
	for _, r := range rows {
		out.Data = append(out.Data, r.raw)
	}

	buf, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal merged samples: %w", err)
	}
	return buf, nil
}

func stringField(fields map[string]json.RawMessage, name string) string {
	raw, ok := fields[name]
	if !ok || len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// non-string ids/timestamps participate via their raw text
		return strings.TrimSpace(string(raw))
	}
	return s
}
