package configutil

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// DecodeSection validates a vendor settings map against the mapstructure
// tags of out and then decodes it. required names keys that must carry a
// non-empty value. Errors are prefixed with section.
func DecodeSection(section string, input map[string]any, out any, required ...string) error {
	if err := ValidateSettings(section, input, SchemaOf(out, required...)); err != nil {
		return err
	}
	if err := DecodeSettings(input, out); err != nil {
		return fmt.Errorf("%s: %w", section, err)
	}
	return nil
}

// DecodeSettings decodes a free-form settings map into a typed struct.
// Strings are weakly converted ("1.2" into a float, "30s" into a
// time.Duration) after ${VAR} expansion. Keys match fields regardless of
// case, underscores and hyphens.
func DecodeSettings(input map[string]any, out any) error {
	if len(input) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			expandEnvHook,
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		MatchName: func(key, field string) bool { return canonical(key) == canonical(field) },
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	return nil
}

func expandEnvHook(from, _ reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	return ExpandEnv(reflect.ValueOf(data).String()), nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} with its environment value and ${VAR:-dflt}
// with dflt when VAR is unset or empty. Bare $VAR is left alone so prompts
// and secrets containing '$' survive.
func ExpandEnv(value string) string {
	if !strings.Contains(value, "${") {
		return value
	}
	return envRef.ReplaceAllStringFunc(value, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v := os.Getenv(m[1]); v != "" || m[2] == "" {
			return v
		}
		return m[3]
	})
}

// RequireString ensures a value is present for a required config field.
func RequireString(value, path string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", path)
	}
	return nil
}

// Or dereferences p, or returns fallback when p is nil. Optional settings
// use pointers so an explicit zero differs from an absent key.
func Or[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}

func canonical(key string) string {
	return strings.NewReplacer("_", "", "-", "").Replace(strings.ToLower(key))
}
