package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAttribute is returned by Validate when a worklist references an
// attribute that has no label.
var ErrUnknownAttribute = errors.New("unknown attribute")

// AttributeID is the trade site's opaque stat identifier, e.g. "explicit.stat_2048747572".
type AttributeID string

// Mode selects which worklist a run walks.
type Mode string

const (
	// ModeSingle walks the single-attribute worklist
	ModeSingle Mode = "single"
	// ModePair walks the attribute-pair worklist
	ModePair Mode = "pair"
)

// ParseMode converts a user-supplied string into a Mode
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSingle:
		return ModeSingle, nil
	case ModePair, "double":
		return ModePair, nil
	default:
		return "", fmt.Errorf("invalid mode %q: want %q or %q", s, ModeSingle, ModePair)
	}
}

// QueryKey is one or two attribute identifiers searched together.
// Second is empty for single-attribute keys. Order is insertion order.
type QueryKey struct {
	First  AttributeID
	Second AttributeID
}

// Single builds a single-attribute key
func Single(id AttributeID) QueryKey {
	return QueryKey{First: id}
}

// Pair builds a two-attribute key
func Pair(first, second AttributeID) QueryKey {
	return QueryKey{First: first, Second: second}
}

// IsPair reports whether the key carries a second attribute
func (k QueryKey) IsPair() bool {
	return k.Second != ""
}

// IDs returns the attribute identifiers of the key in order
func (k QueryKey) IDs() []AttributeID {
	if k.IsPair() {
		return []AttributeID{k.First, k.Second}
	}
	return []AttributeID{k.First}
}

// Catalog maps attribute identifiers to labels and holds the pair worklist.
// The single worklist is derived from the label insertion order.
type Catalog struct {
	order  []AttributeID
	labels map[AttributeID]string
	pairs  []QueryKey
}

// Attribute is one labelled identifier used to build a Catalog
type Attribute struct {
	ID    AttributeID
	Label string
}

// New creates a catalog from labelled attributes and pair keys
func New(attrs []Attribute, pairs []QueryKey) *Catalog {
	c := &Catalog{
		labels: make(map[AttributeID]string, len(attrs)),
		pairs:  append([]QueryKey(nil), pairs...),
	}
	for _, a := range attrs {
		if _, dup := c.labels[a.ID]; !dup {
			c.order = append(c.order, a.ID)
		}
		c.labels[a.ID] = a.Label
	}
	return c
}

// Label returns the human-readable label for id.
// An unknown id is a programming error and panics; call Validate at startup.
func (c *Catalog) Label(id AttributeID) string {
	label, ok := c.labels[id]
	if !ok {
		panic(fmt.Sprintf("catalog: no label for attribute %q", id))
	}
	return label
}

// KeyLabel renders a key as "A" or "A + B"
func (c *Catalog) KeyLabel(k QueryKey) string {
	if k.IsPair() {
		return c.Label(k.First) + " + " + c.Label(k.Second)
	}
	return c.Label(k.First)
}

// Worklist returns the keys a run in the given mode processes, in order
func (c *Catalog) Worklist(mode Mode) []QueryKey {
	if mode == ModeSingle {
		keys := make([]QueryKey, 0, len(c.order))
		for _, id := range c.order {
			keys = append(keys, Single(id))
		}
		return keys
	}
	return append([]QueryKey(nil), c.pairs...)
}

// Validate checks that every key in both worklists resolves to labels and that
// pair keys reference two distinct attributes.
func (c *Catalog) Validate() error {
	var problems []string
	for _, mode := range []Mode{ModeSingle, ModePair} {
		for i, k := range c.Worklist(mode) {
			if k.First == "" {
				problems = append(problems, fmt.Sprintf("%s[%d]: empty attribute", mode, i))
				continue
			}
			if k.IsPair() && k.First == k.Second {
				problems = append(problems, fmt.Sprintf("%s[%d]: duplicate attribute %q", mode, i, k.First))
			}
			for _, id := range k.IDs() {
				if _, ok := c.labels[id]; !ok {
					problems = append(problems, fmt.Sprintf("%s[%d]: %q", mode, i, id))
				}
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownAttribute, strings.Join(problems, ", "))
	}
	return nil
}
