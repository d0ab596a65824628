// Package model defines core domain types shared across the service.
package model

import "time"

// Range bounds a measured quantity, typically a span duration in
// milliseconds. Callers must supply min <= max.
type Range struct {
	Min float64
	Max float64
}

// Datetime carries the time selection of a query: either a relative
// period like "10d" or an explicit start/end pair.
type Datetime struct {
	Period string
	Start  *time.Time
	End    *time.Time
	UTC    bool
}

// HasExplicitRange reports whether start and end are both set.
func (d Datetime) HasExplicitRange() bool {
	return d.Start != nil && d.End != nil
}

// PageSelection scopes a query to projects and environments, plus the
// time selection.
type PageSelection struct {
	Datetime     Datetime
	Projects     []int
	Environments []string
}

// FilterToken is a single key:value filter. A nil Value means the
// filter is absent and must be omitted from the serialized query.
type FilterToken struct {
	Key   string
	Value *string
}

// SampleQuery is everything needed to build one spans-samples request.
type SampleQuery struct {
	Org       string
	Fields    []string // logical field identifiers
	Filters   []FilterToken
	Referrer  string
	Range     Range
	Selection PageSelection
}
