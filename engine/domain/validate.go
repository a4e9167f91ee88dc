package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Injection patterns — fragments that should never appear in free-form user
// text (retrieval queries, checklist uploads) because they indicate an
// attempt to manipulate a downstream prompt or query layer rather than
// describe actual content.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(DROP|DELETE|INSERT|UPDATE|ALTER|EXEC|UNION)\b.*\b(TABLE|FROM|INTO|SELECT|SET)\b`),
	regexp.MustCompile(`(?i)(--|;)\s*(DROP|DELETE|SELECT)`),
	regexp.MustCompile(`(?i)\{\{.*\}\}`),          // template injection
	regexp.MustCompile(`(?i)\{\s*"\$[a-z]+"\s*:`), // NoSQL operator injection
}

const minQueryLength = 3

// ValidateQueryText validates a raw retrieval query string before it is
// embedded. Returns a *ValidationError (KindInvalidInput) on failure.
func ValidateQueryText(text string) error {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < minQueryLength {
		return NewValidationError("text", trimmed, ErrTextTooShort)
	}
	for _, pat := range injectionPatterns {
		if pat.MatchString(trimmed) {
			return NewValidationError("text", trimmed, ErrTextInjection)
		}
	}
	return nil
}

// ValidateChecklistContent validates a raw checklist upload before parsing.
func ValidateChecklistContent(content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return NewValidationError("checklist_content", "", ErrEmptyChecklist)
	}
	for _, pat := range injectionPatterns {
		if pat.MatchString(trimmed) {
			return NewValidationError("checklist_content", trimmed, ErrTextInjection)
		}
	}
	return nil
}

// LoadSnapshot decodes a config snapshot previously persisted as part of an
// IndexingRun. Unlike a fresh config load at the component boundary, an
// unrecognized top-level key here is not rejected — it is preserved
// verbatim in Config.Extra, since a snapshot must remain forward-compatible
// with config keys introduced after it was written.
func LoadSnapshot(raw map[string]any) (Config, error) {
	cfg := DefaultConfig()
	extra := map[string]any{}

	for key, val := range raw {
		if !recognizedTopLevelKeys[key] {
			extra[key] = val
			continue
		}
	}

	// Round-trip the recognized subset through JSON to populate the typed
	// struct fields, leaving DefaultConfig's values for any field the
	// snapshot omits.
	recognized := map[string]any{}
	for key, val := range raw {
		if recognizedTopLevelKeys[key] {
			recognized[key] = val
		}
	}
	buf, err := json.Marshal(recognized)
	if err != nil {
		return Config{}, NewError(KindConfigError, "domain.LoadSnapshot", err)
	}
	if err := json.Unmarshal(buf, &cfg); err != nil {
		return Config{}, NewError(KindConfigError, "domain.LoadSnapshot", err)
	}
	if len(extra) > 0 {
		cfg.Extra = extra
	}
	return cfg, nil
}

// LoadFreshConfig decodes a config map at a component boundary where forward
// compatibility is not required: any top-level key outside the recognized
// set is an error, per the "reject unknown keys" rule for a new run.
func LoadFreshConfig(raw map[string]any) (Config, error) {
	for key := range raw {
		if !recognizedTopLevelKeys[key] {
			return Config{}, NewError(KindConfigError, "domain.LoadFreshConfig",
				fmt.Errorf("%w: %q", ErrUnknownConfigKey, key))
		}
	}
	cfg := DefaultConfig()
	buf, err := json.Marshal(raw)
	if err != nil {
		return Config{}, NewError(KindConfigError, "domain.LoadFreshConfig", err)
	}
	if err := json.Unmarshal(buf, &cfg); err != nil {
		return Config{}, NewError(KindConfigError, "domain.LoadFreshConfig", err)
	}
	return cfg, nil
}
