package search

import "testing"

func TestFormat_OmitsAbsentValues(t *testing.T) {
	got := NewBuilder().
		Add("span.group", "221aa7ebd216").
		Add("release", "0.0.1").
		AddOptional("environment", nil).
		String()
	want := "span.group:221aa7ebd216 release:0.0.1"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestFormat_Empty(t *testing.T) {
	if got := NewBuilder().String(); got != "" {
		t.Fatalf("empty builder got %q", got)
	}
	if got := NewBuilder().AddOptional("environment", nil).String(); got != "" {
		t.Fatalf("all-absent builder got %q", got)
	}
}

func TestFormat_QuotesValuesWithSpaces(t *testing.T) {
	got := NewBuilder().Add("span.description", "SELECT * FROM users").String()
	want := `span.description:"SELECT * FROM users"`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestFormat_PreservesInsertionOrder(t *testing.T) {
	got := NewBuilder().
		Add("release", "0.0.1").
		Add("span.group", "221aa7ebd216").
		String()
	want := "release:0.0.1 span.group:221aa7ebd216"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
