package queue

import (
	"encoding/json"
	"strings"
)

// Pacing presets control narration speed in words per minute.
type Pacing string

const (
	PacingFast     Pacing = "FAST"
	PacingBalanced Pacing = "BALANCED"
	PacingExam     Pacing = "EXAM"
)

// Personality presets select the narration tone.
type Personality string

const (
	PersonalityStandard  Personality = "STANDARD"
	PersonalityUnhinged  Personality = "UNHINGED"
	PersonalityASMR      Personality = "ASMR"
	PersonalityGossip    Personality = "GOSSIP"
	PersonalityProfessor Personality = "PROFESSOR"
)

// JobConfig is the client-supplied generation configuration stored alongside
// the job record.
type JobConfig struct {
	DurationClass string      `json:"duration_class"`
	Pacing        Pacing      `json:"pacing"`
	Personality   Personality `json:"personality"`
	CaptionStyle  string      `json:"caption_style"`
	ExportExtras  bool        `json:"export_extras"`
}

var pacingWPM = map[Pacing]int{
	PacingFast:     180,
	PacingBalanced: 165,
	PacingExam:     145,
}

var personalitySet = map[Personality]struct{}{
	PersonalityStandard:  {},
	PersonalityUnhinged:  {},
	PersonalityASMR:      {},
	PersonalityGossip:    {},
	PersonalityProfessor: {},
}

// ParsePacing converts a string into a known pacing preset.
func ParsePacing(value string) (Pacing, bool) {
	normalized := Pacing(strings.ToUpper(strings.TrimSpace(value)))
	_, ok := pacingWPM[normalized]
	return normalized, ok
}

// ParsePersonality converts a string into a known personality preset.
func ParsePersonality(value string) (Personality, bool) {
	normalized := Personality(strings.ToUpper(strings.TrimSpace(value)))
	_, ok := personalitySet[normalized]
	return normalized, ok
}

// WordsPerMinute returns the narration rate for the pacing preset.
// Unknown presets fall back to the balanced rate.
func (p Pacing) WordsPerMinute() int {
	if wpm, ok := pacingWPM[p]; ok {
		return wpm
	}
	return pacingWPM[PacingBalanced]
}

// Normalize fills defaults for blank fields.
func (c *JobConfig) Normalize() {
	if _, ok := ParsePacing(string(c.Pacing)); !ok {
		c.Pacing = PacingBalanced
	} else {
		c.Pacing = Pacing(strings.ToUpper(string(c.Pacing)))
	}
	if _, ok := ParsePersonality(string(c.Personality)); !ok {
		c.Personality = PersonalityStandard
	} else {
		c.Personality = Personality(strings.ToUpper(string(c.Personality)))
	}
	if strings.TrimSpace(c.DurationClass) == "" {
		c.DurationClass = "standard"
	}
	if strings.TrimSpace(c.CaptionStyle) == "" {
		c.CaptionStyle = "default"
	}
}

// ConfigFromJSON builds a job configuration from stored JSON, falling back to
// normalized defaults when the payload is missing or malformed.
func ConfigFromJSON(data string) JobConfig {
	var cfg JobConfig
	_ = json.Unmarshal([]byte(data), &cfg)
	cfg.Normalize()
	return cfg
}

// JSON serializes the configuration for storage.
func (c JobConfig) JSON() string {
	data, err := json.Marshal(c)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Config returns the job's parsed configuration.
func (j Job) Config() JobConfig {
	return ConfigFromJSON(j.ConfigJSON)
}
