// Package access resolves who may see tests and programs, and with which
// collaborator role. Visibility levels form a total order so "the more
// restrictive of two levels" is a single comparison.
package access

import "encoding/json"

type Visibility int

// Ordered from most restrictive to most open.
const (
	Hidden Visibility = iota
	Private
	Restricted
	Public
)

var visibilityNames = [...]string{"hidden", "private", "restricted", "public"}

// ParseVisibility maps a stored level string to its ordered value. Unknown
// strings fall back to Public, which matches how legacy rows without a level
// are listed.
func ParseVisibility(s string) Visibility {
	for i, name := range visibilityNames {
		if s == name {
			return Visibility(i)
		}
	}
	return Public
}

func (v Visibility) String() string {
	if v < Hidden || v > Public {
		return visibilityNames[Public]
	}
	return visibilityNames[v]
}

// Effective returns the most restrictive of the given levels. With no
// arguments it returns Public.
func Effective(levels ...Visibility) Visibility {
	eff := Public
	for _, l := range levels {
		if l < eff {
			eff = l
		}
	}
	return eff
}

// Listable reports whether a test at this level appears in the shared
// catalog. Everything except hidden is listed; private and restricted tests
// are deliberately still listable, restricted only withholds materials.
func (v Visibility) Listable() bool { return v != Hidden }

func (v Visibility) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

func (v *Visibility) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*v = ParseVisibility(s)
	return nil
}
