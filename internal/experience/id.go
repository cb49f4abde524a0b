package experience

import (
	"fmt"
	"strings"
)

// DefaultType is the only identifier namespace experiences live in.
const DefaultType = "Experience"

// ID names an experience. The zero value is invalid.
type ID struct {
	Type string
	Name string
}

// Well-known experiences.
var (
	Start       = NewID("Exp_Start")
	Lobby       = NewID("Exp_Lobby")
	MatchWarmup = NewID("Exp_Match_Warmup")
	MatchCombat = NewID("Exp_Match_Combat")
	MatchResult = NewID("Exp_Match_Result")
)

// NewID returns the experience ID for name.
func NewID(name string) ID {
	return ID{Type: DefaultType, Name: name}
}

// ParseID parses "Name" or "Type:Name". Any type is coerced to DefaultType.
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	id := NewID(strings.TrimSpace(s))
	if !id.IsValid() {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return id, nil
}

// IsValid reports whether the ID has a name and the experience namespace.
func (id ID) IsValid() bool {
	return id.Type == DefaultType && id.Name != "" && !strings.ContainsAny(id.Name, " \t:?=")
}

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool {
	return id == ID{}
}

func (id ID) String() string {
	if id.IsZero() {
		return ""
	}
	return id.Type + ":" + id.Name
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*id = ID{}
		return nil
	}
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
