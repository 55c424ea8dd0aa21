package policy

import "fmt"

// Level is a command access level. Levels form a strict hierarchy: a caller
// holding a higher level satisfies any lower requirement.
type Level int

// Access levels, lowest to highest.
const (
	LevelPublic Level = iota
	LevelAuthorized
	LevelSudo
	LevelOwner
)

var levelNames = map[Level]string{
	LevelPublic:     "public",
	LevelAuthorized: "authorized",
	LevelSudo:       "sudo",
	LevelOwner:      "owner",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel converts a level name to a Level.
func ParseLevel(name string) (Level, error) {
	for l, n := range levelNames {
		if n == name {
			return l, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown access level %q", ErrInvalidDocument, name)
}

// CapabilityFromFlags maps a caller's role flags to the highest level the
// caller holds. The authorized flag is only ever set transiently, from a
// successful token validation for the current call.
func CapabilityFromFlags(isOwner, isSudo, isAuthorized bool) Level {
	switch {
	case isOwner:
		return LevelOwner
	case isSudo:
		return LevelSudo
	case isAuthorized:
		return LevelAuthorized
	default:
		return LevelPublic
	}
}
