package session

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tomz197/skirmish/internal/experience"
)

// ExperienceOption is the option key that selects the initial experience.
const ExperienceOption = "Experience"

// ParseOptions parses a URL-style option string such as
// "?listen?Experience=Exp_Match_Warmup". Keys without a value map to "".
func ParseOptions(s string) map[string]string {
	opts := make(map[string]string)
	for _, part := range strings.Split(s, "?") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		opts[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return opts
}

var editorPrefix = regexp.MustCompile(`^uedpie_\d+_`)

// DefaultExperience picks the experience for a map when no option names one.
func DefaultExperience(mapName string) experience.ID {
	name := strings.ToLower(strings.TrimSpace(mapName))
	name = editorPrefix.ReplaceAllString(name, "")

	switch name {
	case "startgamelevel":
		return experience.Start
	case "lobbylevel":
		return experience.Lobby
	case "matchlevel":
		return experience.MatchWarmup
	default:
		return experience.Start
	}
}

// InitialExperience resolves the experience a session starts with.
func InitialExperience(options, mapName string) (experience.ID, error) {
	opts := ParseOptions(options)
	name, ok := opts[ExperienceOption]
	if !ok {
		return DefaultExperience(mapName), nil
	}
	id, err := experience.ParseID(name)
	if err != nil {
		return experience.ID{}, fmt.Errorf("%w: option %s=%q", experience.ErrConfigNotFound, ExperienceOption, name)
	}
	return id, nil
}
