package session

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultDurationMinutes = 30
	MaxDurationMinutes     = 120
	DefaultMinQuestions    = 3
	DefaultMaxQuestions    = 10
)

// Config is the immutable interview configuration supplied at creation.
type Config struct {
	Kind            Kind     `json:"kind"`
	TargetRole      string   `json:"targetRole"`
	ExperienceLevel string   `json:"experienceLevel"`
	DurationMinutes int      `json:"durationMinutes"`
	Mode            Mode     `json:"mode"`
	TechStack       []string `json:"techStack,omitempty"`
	FocusAreas      []string `json:"focusAreas,omitempty"`
	MinQuestions    int      `json:"minQuestions"`
	MaxQuestions    int      `json:"maxQuestions"`
}

// WithDefaults returns a copy of c with zero fields filled in.
func (c Config) WithDefaults() Config {
	if c.Kind == "" {
		c.Kind = KindMixed
	}
	if c.Mode == "" {
		c.Mode = ModeVoice
	}
	if c.ExperienceLevel == "" {
		c.ExperienceLevel = "mid"
	}
	if c.DurationMinutes == 0 {
		c.DurationMinutes = DefaultDurationMinutes
	}
	if c.MinQuestions == 0 {
		c.MinQuestions = DefaultMinQuestions
	}
	if c.MaxQuestions == 0 {
		c.MaxQuestions = DefaultMaxQuestions
	}
	c.TechStack = append([]string(nil), c.TechStack...)
	c.FocusAreas = append([]string(nil), c.FocusAreas...)
	return c
}

// Validate reports every problem with c joined into one error.
func (c Config) Validate() error {
	var errs []error
	switch c.Kind {
	case KindBehavioral, KindTechnical, KindSystemDesign, KindCoding, KindMixed, KindResumeBased:
	default:
		errs = append(errs, fmt.Errorf("unknown interview kind %q", c.Kind))
	}
	switch c.Mode {
	case ModeVoice, ModeVideo, ModeText:
	default:
		errs = append(errs, fmt.Errorf("unknown interaction mode %q", c.Mode))
	}
	if c.DurationMinutes <= 0 || c.DurationMinutes > MaxDurationMinutes {
		errs = append(errs, fmt.Errorf("duration must be between 1 and %d minutes, got %d", MaxDurationMinutes, c.DurationMinutes))
	}
	if c.MinQuestions < 0 {
		errs = append(errs, fmt.Errorf("min questions must not be negative, got %d", c.MinQuestions))
	}
	if c.MaxQuestions < 1 {
		errs = append(errs, fmt.Errorf("max questions must be at least 1, got %d", c.MaxQuestions))
	}
	if c.MaxQuestions > 0 && c.MinQuestions > c.MaxQuestions {
		errs = append(errs, fmt.Errorf("min questions (%d) exceeds max questions (%d)", c.MinQuestions, c.MaxQuestions))
	}
	if strings.TrimSpace(c.TargetRole) == "" {
		errs = append(errs, errors.New("target role is required"))
	}
	return errors.Join(errs...)
}
