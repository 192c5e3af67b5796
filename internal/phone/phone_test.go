package phone

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseFormats(t *testing.T) {
	cases := []struct {
		in       string
		e164     string
		friendly string
	}{
		{"+15102567675", "+15102567675", "(510) 256-7675"},
		{"5102567675", "+15102567675", "(510) 256-7675"},
		{"(510) 256-7675", "+15102567675", "(510) 256-7675"},
		{"+442071838750", "+442071838750", "+44 20 7183 8750"},
	}

	for _, tc := range cases {
		n, err := Parse(tc.in)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", tc.in, err)
		}
		if n.E164() != tc.e164 {
			t.Errorf("Parse(%q).E164() = %q, want %q", tc.in, n.E164(), tc.e164)
		}
		if n.Friendly() != tc.friendly {
			t.Errorf("Parse(%q).Friendly() = %q, want %q", tc.in, n.Friendly(), tc.friendly)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse("not a number"); !errors.Is(err, ErrInvalidNumber) {
		t.Errorf("expected ErrInvalidNumber, got %v", err)
	}
}

func TestParseInt(t *testing.T) {
	n, err := ParseInt(5102567675)
	if err != nil {
		t.Fatalf("ParseInt error: %v", err)
	}
	if n.E164() != "+15102567675" {
		t.Errorf("E164() = %q, want +15102567675", n.E164())
	}
}

func TestNumberEqual(t *testing.T) {
	a := MustParse("+15102567675")
	b := MustParse("(510) 256-7675")
	if !a.Equal(b) {
		t.Error("numbers with same E.164 should be equal")
	}
}

func TestNumberJSONRoundTrip(t *testing.T) {
	n := MustParse("+15102567675")
	data, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if string(data) != `"+15102567675"` {
		t.Errorf("marshal = %s, want quoted E.164", data)
	}

	var back Number
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if !n.Equal(back) {
		t.Errorf("round trip changed number: %v != %v", n, back)
	}
}

func TestKeyMatching(t *testing.T) {
	n := MustParse("+15102567675")
	other := MustParse("+15102567710")

	if !Exact(n).Matches(n) {
		t.Error("exact key should match its own number")
	}
	if Exact(n).Matches(other) {
		t.Error("exact key should not match a different number")
	}
	if !Any.Matches(n) || !Any.Matches(other) {
		t.Error("wildcard key should match every number")
	}
}

func TestKeyAsMapKey(t *testing.T) {
	n := MustParse("+15102567675")
	m := map[Key]string{
		Exact(n): "exact",
		Any:      "wildcard",
	}
	if m[Exact(MustParse("5102567675"))] != "exact" {
		t.Error("equal exact keys should collide in a map")
	}
	if m[Any] != "wildcard" {
		t.Error("wildcard key lookup failed")
	}
}

const testManifest = `[
  {"number": "+15102567675", "labels": ["clavae_1"], "capabilities": ["voice", "sms", "mms"]},
  {"number": "+15102567710", "labels": ["karen_1"], "capabilities": ["voice", "sms"]},
  {"number": "+15102567656", "capabilities": ["voice"]}
]`

func TestLibraryFromLabel(t *testing.T) {
	lib, err := ParseLibrary([]byte(testManifest))
	if err != nil {
		t.Fatalf("ParseLibrary error: %v", err)
	}

	n, err := lib.FromLabel("clavae_1")
	if err != nil {
		t.Fatalf("FromLabel error: %v", err)
	}
	if n.E164() != "+15102567675" {
		t.Errorf("FromLabel = %q, want +15102567675", n.E164())
	}

	if _, err := lib.FromLabel("nope"); !errors.Is(err, ErrNoSuchLabel) {
		t.Errorf("expected ErrNoSuchLabel, got %v", err)
	}
}

func TestLibraryRandom(t *testing.T) {
	lib, err := ParseLibrary([]byte(testManifest))
	if err != nil {
		t.Fatalf("ParseLibrary error: %v", err)
	}

	// mms narrows the pool to a single number.
	for i := 0; i < 10; i++ {
		n, err := lib.Random(CapSMS, CapMMS)
		if err != nil {
			t.Fatalf("Random error: %v", err)
		}
		if n.E164() != "+15102567675" {
			t.Errorf("Random(sms, mms) = %q, want +15102567675", n.E164())
		}
	}

	if _, err := lib.Random(Capability("fax")); !errors.Is(err, ErrNoSuchCapability) {
		t.Errorf("expected ErrNoSuchCapability, got %v", err)
	}
}

func TestLibraryRejectsMissingCapabilities(t *testing.T) {
	_, err := ParseLibrary([]byte(`[{"number": "+15102567675"}]`))
	if err == nil {
		t.Error("expected error for entry with no capabilities")
	}
}
