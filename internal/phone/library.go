package phone

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
)

// Capability names a thing an outbound number can do.
type Capability string

const (
	CapVoice Capability = "voice"
	CapSMS   Capability = "sms"
	CapMMS   Capability = "mms"
)

var (
	// ErrNoSuchCapability is returned when no number in the library has
	// every requested capability.
	ErrNoSuchCapability = errors.New("no number with requested capabilities")

	// ErrNoSuchLabel is returned for an unknown number label.
	ErrNoSuchLabel = errors.New("no number with label")
)

// Library is the pool of outbound numbers loaded from the numbers
// manifest. It is immutable after load and safe for concurrent use.
type Library struct {
	numbers      []Number
	capabilities map[Capability][]Number
	labels       map[string]Number
}

type manifestEntry struct {
	Number       string   `json:"number"`
	Labels       []string `json:"labels"`
	Capabilities []string `json:"capabilities"`
}

// LoadLibrary reads the numbers manifest, an array of
// {number, labels[], capabilities[]} objects. Number and capabilities are
// required; a manifest that fails to parse should abort startup.
func LoadLibrary(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading numbers manifest: %w", err)
	}
	return ParseLibrary(data)
}

// ParseLibrary builds a Library from raw manifest bytes.
func ParseLibrary(data []byte) (*Library, error) {
	var entries []manifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing numbers manifest: %w", err)
	}

	lib := &Library{
		capabilities: make(map[Capability][]Number),
		labels:       make(map[string]Number),
	}
	for _, entry := range entries {
		num, err := Parse(entry.Number)
		if err != nil {
			return nil, fmt.Errorf("numbers manifest: %w", err)
		}
		if len(entry.Capabilities) == 0 {
			return nil, fmt.Errorf("numbers manifest: %s has no capabilities", num.E164())
		}
		lib.numbers = append(lib.numbers, num)
		for _, cap := range entry.Capabilities {
			c := Capability(cap)
			lib.capabilities[c] = append(lib.capabilities[c], num)
		}
		for _, label := range entry.Labels {
			lib.labels[label] = num
		}
	}
	return lib, nil
}

// Random returns a uniformly chosen number that has every requested
// capability. With no capabilities it defaults to voice.
func (l *Library) Random(caps ...Capability) (Number, error) {
	if len(caps) == 0 {
		caps = []Capability{CapVoice}
	}

	candidates := l.numbers
	for _, cap := range caps {
		allowed := make(map[string]bool, len(l.capabilities[cap]))
		for _, n := range l.capabilities[cap] {
			allowed[n.E164()] = true
		}
		var kept []Number
		for _, n := range candidates {
			if allowed[n.E164()] {
				kept = append(kept, n)
			}
		}
		candidates = kept
	}

	if len(candidates) == 0 {
		return Number{}, fmt.Errorf("%w: %v", ErrNoSuchCapability, caps)
	}
	return candidates[rand.Intn(len(candidates))], nil
}

// FromLabel returns the number carrying the given manifest label.
func (l *Library) FromLabel(label string) (Number, error) {
	n, ok := l.labels[label]
	if !ok {
		return Number{}, fmt.Errorf("%w: %q", ErrNoSuchLabel, label)
	}
	return n, nil
}

// Len reports how many numbers the library holds.
func (l *Library) Len() int { return len(l.numbers) }
