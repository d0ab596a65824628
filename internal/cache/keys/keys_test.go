package keys

import (
	"net/url"
	"regexp"
	"testing"
	"unicode"
)

func params(query string) url.Values {
	v := url.Values{}
	v.Set("query", query)
	v.Set("statsPeriod", "10d")
	v.Add("additionalFields", "transaction.id")
	v.Add("additionalFields", "span_id")
	v.Set("lowerBound", "0")
	v.Set("upperBound", "900")
	return v
}

func TestKey_Deterministic(t *testing.T) {
	k1 := Key("demo", params("span.group:221aa7ebd216 release:0.0.1"), 1)
	k2 := Key("demo", params("span.group:221aa7ebd216 release:0.0.1"), 1)
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
}

func TestKey_DistinguishesQueryAndSegment(t *testing.T) {
	base := Key("demo", params("release:0.0.1"), 0)
	if k := Key("demo", params("release:0.0.2"), 0); k == base {
		t.Fatalf("different filters must produce different keys")
	}
	if k := Key("demo", params("release:0.0.1"), 1); k == base {
		t.Fatalf("different segments must produce different keys")
	}
	if k := Key("other", params("release:0.0.1"), 0); k == base {
		t.Fatalf("different orgs must produce different keys")
	}

	p := params("release:0.0.1")
	p.Set("statsPeriod", "24h")
	if k := Key("demo", p, 0); k == base {
		t.Fatalf("different time selections must produce different keys")
	}
}

func TestKey_ASCIIAndHashSuffix(t *testing.T) {
	k := Key("demo", params(`span.description:"SELECT * FROM müşteri" 雪:1`), 2)

	for _, r := range k {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, k)
		}
	}
	if m := regexp.MustCompile(`:q=([0-9a-f]{16})$`).FindStringSubmatch(k); len(m) != 2 {
		t.Fatalf("missing or invalid :q=<hex64> suffix in key: %s", k)
	}
}

func TestQueryHash_IgnoresValuesInsertionOrder(t *testing.T) {
	a := url.Values{}
	a.Set("query", "release:0.0.1")
	a.Set("statsPeriod", "10d")

	b := url.Values{}
	b.Set("statsPeriod", "10d")
	b.Set("query", "release:0.0.1")

	if QueryHash(a) != QueryHash(b) {
		t.Fatalf("QueryHash must be canonical over parameter order")
	}
}
