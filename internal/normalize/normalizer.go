// Package normalize turns free-form provider text into profile-shaped metadata.
package normalize

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/inaiurai/metagen/internal/models"
	"github.com/inaiurai/metagen/internal/profiles"
)

var (
	errNoObject    = errors.New("no balanced {...} span in response")
	errBadSpan     = errors.New("extracted span is not valid JSON")
	errNotAnObject = errors.New("top-level value is not an object")
)

type Normalizer struct {
	schemas *SchemaSet
}

// New returns a Normalizer. schemas may be nil when no profile declares one.
func New(schemas *SchemaSet) *Normalizer {
	return &Normalizer{schemas: schemas}
}

// Normalize extracts the first JSON object from raw and reshapes it for profile.
func (n *Normalizer) Normalize(raw string, job models.FileJob, profile *profiles.Profile) (models.Metadata, error) {
	span, ok := firstObject(raw)
	if !ok {
		return nil, &Error{Kind: NotJSON, Err: errNoObject}
	}
	if !gjson.Valid(span) {
		return nil, &Error{Kind: InvalidJSON, Err: errBadSpan}
	}
	parsed := gjson.Parse(span)
	if !parsed.IsObject() {
		return nil, &Error{Kind: InvalidJSON, Err: errNotAnObject}
	}
	fields := parsed.Map()

	out := models.Metadata{
		profile.PrimaryField(): profile.SanitizeFilename(job.Filename),
	}

	keywordField := profile.Keywords()
	for _, name := range profile.CSVRequirements.Generate {
		v, ok := fields[name]
		if !ok || empty(v) {
			continue
		}
		if name == keywordField {
			out[name] = keywords(v)
			continue
		}
		out[name] = v.Value()
	}

	for _, o := range profile.Overrides {
		if o.From != "" {
			if v, ok := fields[o.From]; ok && v.Type != gjson.Null {
				out[o.Field] = v.Value()
				continue
			}
		}
		if o.Value != nil {
			out[o.Field] = o.Value
		}
	}

	for _, name := range profile.CSVRequirements.Structure {
		if _, ok := out[name]; !ok {
			out[name] = ""
		}
	}

	if n.schemas != nil {
		if err := n.schemas.Validate(profile.ID, out); err != nil {
			return nil, &Error{Kind: SchemaViolation, Err: err}
		}
	}
	return out, nil
}

// firstObject returns the first balanced {...} span, honoring JSON strings.
func firstObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}

// empty reports a generated value that is not worth copying: null, false,
// zero, blank or []. Overrides use the looser rule that only null or absent
// falls back, so an explicit 0 category survives.
func empty(v gjson.Result) bool {
	switch v.Type {
	case gjson.Null, gjson.False:
		return true
	case gjson.Number:
		return v.Num == 0
	case gjson.String:
		return strings.TrimSpace(v.Str) == ""
	case gjson.JSON:
		return v.IsArray() && len(v.Array()) == 0
	}
	return false
}

// keywords returns the keyword list, splitting comma-delimited strings.
func keywords(v gjson.Result) []any {
	var parts []string
	if v.IsArray() {
		for _, item := range v.Array() {
			parts = append(parts, item.String())
		}
	} else {
		parts = strings.Split(v.String(), ",")
	}

	out := make([]any, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
