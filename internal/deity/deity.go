// Package deity defines the closed set of deities a religion can be devoted to.
package deity

import (
	"fmt"
	"strings"
)

// Deity is a closed enumeration. None is a sentinel and never valid for a religion.
type Deity uint8

const (
	None Deity = iota
	Craft
	Wild
	Conquest
	Harvest
	Stone
	Tide
)

var names = map[Deity]string{
	None:     "none",
	Craft:    "craft",
	Wild:     "wild",
	Conquest: "conquest",
	Harvest:  "harvest",
	Stone:    "stone",
	Tide:     "tide",
}

// All returns every selectable deity, excluding None.
func All() []Deity {
	return []Deity{Craft, Wild, Conquest, Harvest, Stone, Tide}
}

// Valid reports whether d is a selectable deity.
func (d Deity) Valid() bool {
	return d > None && d <= Tide
}

func (d Deity) String() string {
	if name, ok := names[d]; ok {
		return name
	}
	return fmt.Sprintf("deity(%d)", uint8(d))
}

// Parse resolves a deity by case-insensitive name.
func Parse(raw string) (Deity, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	for d, name := range names {
		if name == value {
			return d, nil
		}
	}
	return None, fmt.Errorf("unknown deity %q", raw)
}

func (d Deity) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Deity) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
