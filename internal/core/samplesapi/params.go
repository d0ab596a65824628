// Package samplesapi builds requests for the upstream spans-samples
// endpoint.
package samplesapi

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spanlab/span-sample-gateway/internal/core/bucket"
	"github.com/spanlab/span-sample-gateway/internal/core/fields"
	"github.com/spanlab/span-sample-gateway/internal/core/model"
	"github.com/spanlab/span-sample-gateway/internal/core/search"
)

// relative period accepted by the upstream API, e.g. "10d" or "24h"
var periodPattern = regexp.MustCompile(`^\d+[smhdw]$`)

// SamplesEndpoint returns the upstream URL for an org's span samples.
func SamplesEndpoint(base, org string) string {
	return strings.TrimRight(base, "/") + "/api/0/organizations/" + url.PathEscape(org) + "/spans-samples/"
}

// ValidPeriod reports whether s is a well-formed relative stats period.
func ValidPeriod(s string) bool {
	return periodPattern.MatchString(s)
}

// BuildSampleParams assembles the GET query for one sample request.
// Construction is pure: no I/O happens here.
func BuildSampleParams(q model.SampleQuery) (url.Values, error) {
	translated, err := fields.TranslateAll(q.Fields)
	if err != nil {
		return nil, err
	}

	bounds, err := bucket.Bucket(q.Range.Min, q.Range.Max)
	if err != nil {
		return nil, err
	}

	dt := q.Selection.Datetime
	if err := validateDatetime(dt); err != nil {
		return nil, err
	}

	params := url.Values{}
	for _, f := range translated {
		params.Add("additionalFields", f)
	}
	for _, p := range q.Selection.Projects {
		params.Add("project", strconv.Itoa(p))
	}
	for _, e := range q.Selection.Environments {
		params.Add("environment", e)
	}
	if s := search.Format(q.Filters); s != "" {
		params.Set("query", s)
	}
	if q.Referrer != "" {
		params.Set("referrer", q.Referrer)
	}

	if dt.HasExplicitRange() {
		params.Set("start", dt.Start.UTC().Format(time.RFC3339))
		params.Set("end", dt.End.UTC().Format(time.RFC3339))
	} else {
		params.Set("statsPeriod", dt.Period)
	}
	params.Set("utc", strconv.FormatBool(dt.UTC))

	params.Set("lowerBound", formatBound(bounds.LowerBound))
	params.Set("firstBound", formatBound(bounds.FirstBound))
	params.Set("secondBound", formatBound(bounds.SecondBound))
	params.Set("upperBound", formatBound(bounds.UpperBound))

	return params, nil
}

// BuildSegmentParams builds the same query but clamped to one bucket
// segment, used by the caching scenario to fill per-segment pages.
func BuildSegmentParams(q model.SampleQuery, seg model.Range) (url.Values, error) {
	sq := q
	sq.Range = seg
	return BuildSampleParams(sq)
}

func validateDatetime(dt model.Datetime) error {
	explicit := dt.HasExplicitRange()
	if (dt.Start != nil) != (dt.End != nil) {
		return errors.New("start and end must be supplied together")
	}
	if dt.Period != "" && explicit {
		return errors.New("statsPeriod and start/end are mutually exclusive")
	}
	if dt.Period == "" && !explicit {
		return errors.New("either statsPeriod or start/end is required")
	}
	if dt.Period != "" && !ValidPeriod(dt.Period) {
		return fmt.Errorf("invalid statsPeriod %q", dt.Period)
	}
	if explicit && dt.End.Before(*dt.Start) {
		return errors.New("end must not precede start")
	}
	return nil
}

func formatBound(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
