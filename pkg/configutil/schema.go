package configutil

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Schema lists the keys a vendor settings map may carry.
type Schema struct {
	Required     []string
	Optional     []string
	AllowUnknown bool
}

// SchemaOf builds a Schema from the mapstructure tags of out, which must be
// a struct or a pointer to one. Fields without a tag use their Go name;
// "-" tags are skipped. Keys listed in required move out of Optional.
func SchemaOf(out any, required ...string) Schema {
	t := reflect.TypeOf(out)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	schema := Schema{Required: required}
	if t == nil || t.Kind() != reflect.Struct {
		schema.AllowUnknown = true
		return schema
	}
	req := make(map[string]bool, len(required))
	for _, k := range required {
		req[canonical(k)] = true
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		switch {
		case name == "-":
			continue
		case name == "":
			name = f.Name
		}
		if !req[canonical(name)] {
			schema.Optional = append(schema.Optional, name)
		}
	}
	return schema
}

// SettingsError lists the keys that failed validation.
type SettingsError struct {
	Section string
	Missing []string
	Unknown []string
}

func (e *SettingsError) Error() string {
	var b strings.Builder
	if e.Section != "" {
		b.WriteString(e.Section + ": ")
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, "missing: %s", strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		if len(e.Missing) > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "unknown: %s", strings.Join(e.Unknown, ", "))
	}
	return b.String()
}

// ValidateSettings checks input against schema. Keys match regardless of
// case, underscores and hyphens, so "voice_id", "voiceId" and "voice-id" are
// the same key. A required key holding a blank string counts as missing.
// The returned error is a *SettingsError.
func ValidateSettings(section string, input map[string]any, schema Schema) error {
	known := make(map[string]bool, len(schema.Required)+len(schema.Optional))
	for _, k := range schema.Optional {
		known[canonical(k)] = true
	}
	for _, k := range schema.Required {
		known[canonical(k)] = true
	}

	filled := make(map[string]bool, len(input))
	se := &SettingsError{Section: section}
	for k, v := range input {
		ck := canonical(k)
		if !known[ck] && !schema.AllowUnknown {
			se.Unknown = append(se.Unknown, k)
		}
		if s, isString := v.(string); v != nil && (!isString || strings.TrimSpace(s) != "") {
			filled[ck] = true
		}
	}
	for _, k := range schema.Required {
		if !filled[canonical(k)] {
			se.Missing = append(se.Missing, k)
		}
	}
	if len(se.Missing) == 0 && len(se.Unknown) == 0 {
		return nil
	}
	sort.Strings(se.Missing)
	sort.Strings(se.Unknown)
	return se
}
