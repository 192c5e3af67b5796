// Package phone provides the canonical phone-number identity used across
// the story engine. A player has no identity other than their normalized
// number, so parsing and equality live here, along with the outbound
// number library loaded from the numbers manifest.
package phone

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/nyaruka/phonenumbers"
)

// ErrInvalidNumber is returned when a string cannot be parsed as a phone
// number, even after assuming the default country prefix.
var ErrInvalidNumber = errors.New("invalid phone number")

// defaultRegion is assumed when a number carries no country prefix.
const defaultRegion = "US"

// Number is a normalized phone number. The zero value is "no number".
// Equality is on the E.164 form.
type Number struct {
	e164     string
	friendly string
}

// Parse normalizes a raw phone number string. It first tries the string as
// an international number; on failure it retries with the default country
// prefix. Integers (no leading +) therefore parse as national numbers.
func Parse(raw string) (Number, error) {
	parsed, err := phonenumbers.Parse(raw, "")
	if err != nil {
		parsed, err = phonenumbers.Parse(raw, defaultRegion)
		if err != nil {
			return Number{}, fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
		}
	}

	friendly := phonenumbers.Format(parsed, phonenumbers.INTERNATIONAL)
	if parsed.GetCountryCode() == 1 {
		// US and Canada read better in national form.
		friendly = phonenumbers.Format(parsed, phonenumbers.NATIONAL)
	}

	return Number{
		e164:     phonenumbers.Format(parsed, phonenumbers.E164),
		friendly: friendly,
	}, nil
}

// ParseInt normalizes an integer phone number.
func ParseInt(raw int64) (Number, error) {
	return Parse(strconv.FormatInt(raw, 10))
}

// MustParse is Parse for trusted literals; it panics on failure.
func MustParse(raw string) Number {
	n, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return n
}

// E164 returns the normalized wire form, e.g. "+15105551234".
func (n Number) E164() string { return n.e164 }

// Friendly returns the human-readable form.
func (n Number) Friendly() string { return n.friendly }

// IsZero reports whether the number is unset.
func (n Number) IsZero() bool { return n.e164 == "" }

// Equal reports whether two numbers normalize to the same E.164 form.
func (n Number) Equal(other Number) bool { return n.e164 == other.e164 }

func (n Number) String() string { return n.friendly }

// MarshalJSON encodes the number as its E.164 string.
func (n Number) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.e164)
}

// UnmarshalJSON decodes an E.164 (or national) string. An empty string
// decodes to the zero Number.
func (n *Number) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		*n = Number{}
		return nil
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// Key is a routing-table key: either an exact number or the wildcard that
// matches any number. Keys are comparable and safe for use as map keys.
type Key struct {
	e164     string
	wildcard bool
}

// Exact returns a key matching only the given number.
func Exact(n Number) Key { return Key{e164: n.e164} }

// Any is the wildcard key. It matches every number.
var Any = Key{wildcard: true}

// Matches reports whether the key matches a number.
func (k Key) Matches(n Number) bool {
	return k.wildcard || k.e164 == n.e164
}

// IsWildcard reports whether the key is the wildcard.
func (k Key) IsWildcard() bool { return k.wildcard }

func (k Key) String() string {
	if k.wildcard {
		return "*"
	}
	return k.e164
}
