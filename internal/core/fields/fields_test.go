package fields

import (
	"errors"
	"testing"
)

func TestTranslateAll_PreservesOrder(t *testing.T) {
	got, err := TranslateAll([]string{TransactionID, SpanID})
	if err != nil {
		t.Fatalf("TranslateAll: %v", err)
	}
	if len(got) != 2 || got[0] != "transaction.id" || got[1] != "span_id" {
		t.Fatalf("unexpected translation: %v", got)
	}
}

func TestTranslate_WireNames(t *testing.T) {
	cases := map[string]string{
		SpanGroup:       "span.group",
		SpanOp:          "span.op",
		SpanDescription: "span.description",
		SpanSelfTime:    "span.self_time",
		ProfileID:       "profile_id",
		Project:         "project",
		Timestamp:       "timestamp",
	}
	for logical, wire := range cases {
		got, err := Translate(logical)
		if err != nil {
			t.Fatalf("Translate(%q): %v", logical, err)
		}
		if got != wire {
			t.Fatalf("Translate(%q) = %q, want %q", logical, got, wire)
		}
	}
}

func TestTranslate_Unknown(t *testing.T) {
	_, err := TranslateAll([]string{TransactionID, "span-duration-p99"})
	var ufe *UnknownFieldError
	if !errors.As(err, &ufe) {
		t.Fatalf("err = %v, want *UnknownFieldError", err)
	}
	if ufe.Field != "span-duration-p99" {
		t.Fatalf("unexpected field in error: %q", ufe.Field)
	}
}
