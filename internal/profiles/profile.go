// Package profiles holds the generator profile catalog: the target sites'
// field lists, categories and per-site quirks, loaded as read-only config.
package profiles

import (
	"fmt"
	"regexp"
)

type CSVRequirements struct {
	Structure []string `yaml:"structure" json:"structure"`
	Generate  []string `yaml:"generate" json:"generate"`
	Delimiter string   `yaml:"delimiter" json:"delimiter"`
}

type Category struct {
	ID   int    `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// FilenameRule is a regexp substitution applied, in order, to the primary identifier.
type FilenameRule struct {
	Pattern string `yaml:"pattern"`
	Replace string `yaml:"replace"`

	re *regexp.Regexp
}

// Override injects a value after the generated fields are copied. When From
// names a parsed field with a non-empty value that value wins, otherwise Value
// is used. A nil Value with an empty source leaves the field alone.
type Override struct {
	Field string `yaml:"field"`
	From  string `yaml:"from"`
	Value any    `yaml:"value"`
}

type Profile struct {
	ID              int             `yaml:"id" json:"id"`
	Title           string          `yaml:"title" json:"title"`
	CSVRequirements CSVRequirements `yaml:"csv_requirements" json:"csvRequirements"`
	Categories      []Category      `yaml:"categories" json:"categories,omitempty"`
	Models          []string        `yaml:"models" json:"models,omitempty"`
	KeywordField    string          `yaml:"keyword_field" json:"-"`
	// PromptExtra is a text/template rendered with the profile. Absent means
	// the generic instruction is used; an explicit empty string adds nothing.
	PromptExtra   *string        `yaml:"prompt_extra" json:"-"`
	FilenameRules []FilenameRule `yaml:"filename_rules" json:"-"`
	Overrides     []Override     `yaml:"overrides" json:"-"`
	// Schema is an optional JSON schema every normalized record must satisfy.
	Schema string `yaml:"schema" json:"-"`
}

// PrimaryField is the structure field that always carries the file name.
func (p *Profile) PrimaryField() string {
	if len(p.CSVRequirements.Structure) == 0 {
		return ""
	}
	return p.CSVRequirements.Structure[0]
}

// Keywords returns the field holding the keyword list.
func (p *Profile) Keywords() string {
	if p.KeywordField == "" {
		return "Keywords"
	}
	return p.KeywordField
}

// SanitizeFilename applies the profile's filename rules.
func (p *Profile) SanitizeFilename(name string) string {
	for _, r := range p.FilenameRules {
		name = r.re.ReplaceAllString(name, r.Replace)
	}
	return name
}

func (p *Profile) compile() error {
	if p.ID <= 0 {
		return fmt.Errorf("profile %q: id must be positive", p.Title)
	}
	if p.Title == "" {
		return fmt.Errorf("profile %d: title is required", p.ID)
	}
	if len(p.CSVRequirements.Structure) == 0 {
		return fmt.Errorf("profile %d: csv_requirements.structure is empty", p.ID)
	}
	if len(p.CSVRequirements.Generate) == 0 {
		return fmt.Errorf("profile %d: csv_requirements.generate is empty", p.ID)
	}
	for i := range p.FilenameRules {
		re, err := regexp.Compile(p.FilenameRules[i].Pattern)
		if err != nil {
			return fmt.Errorf("profile %d: filename rule %d: %w", p.ID, i, err)
		}
		p.FilenameRules[i].re = re
	}
	for i, o := range p.Overrides {
		if o.Field == "" {
			return fmt.Errorf("profile %d: override %d has no field", p.ID, i)
		}
	}
	return nil
}
