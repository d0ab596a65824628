// Package fields translates logical field identifiers to wire names.
package fields

import "fmt"

// Logical field identifiers accepted in queries.
const (
	TransactionID   = "transaction-id"
	SpanID          = "span-id"
	SpanGroup       = "span-group"
	SpanOp          = "span-op"
	SpanDescription = "span-description"
	SpanSelfTime    = "span-self-time"
	ProfileID       = "profile-id"
	Project         = "project"
	Timestamp       = "timestamp"
)

// wireNames maps logical identifiers to the names the spans-samples
// endpoint expects. Note span-id translates to the flat span_id column
// while the rest use dotted names.
var wireNames = map[string]string{
	TransactionID:   "transaction.id",
	SpanID:          "span_id",
	SpanGroup:       "span.group",
	SpanOp:          "span.op",
	SpanDescription: "span.description",
	SpanSelfTime:    "span.self_time",
	ProfileID:       "profile_id",
	Project:         "project",
	Timestamp:       "timestamp",
}

type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field identifier %q", e.Field)
}

// Translate maps a single logical identifier to its wire name.
func Translate(field string) (string, error) {
	w, ok := wireNames[field]
	if !ok {
		return "", &UnknownFieldError{Field: field}
	}
	return w, nil
}

// TranslateAll maps an ordered field list, preserving order.
func TranslateAll(fs []string) ([]string, error) {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		w, err := Translate(f)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}
