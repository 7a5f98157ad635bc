// Package rules holds the RuleSet capabilities: a YAML rule catalog with
// section expectations, a Gemini batch reviewer and a composite that runs
// several rule sets together.
package rules

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Lllllllleong/requirementflow/internal/models"
	"github.com/Lllllllleong/requirementflow/internal/pipeline"
)

// Rule kinds understood by the catalog.
const (
	KindRequireTag   = "require-tag"
	KindMinLength    = "min-length"
	KindForbidPhrase = "forbid-phrase"
	KindRequireModal = "require-modal"
)

// Scopes select which items a rule applies to.
const (
	ScopeBody    = "body"
	ScopeHeading = "heading"
	ScopeAll     = "all"
)

// tagHeading marks heading items produced by the heading parser.
const tagHeading = "heading"

const defaultCatalogYAML = `# requirementflow rule catalog
version: 1

rules:
  - id: require-tag
    kind: require-tag
    severity: warning
    message: every item must have a tag
  - id: require-modal
    kind: require-modal
    severity: warning
    message: requirement has no obligation keyword
    modals: [shall, must, will, should]
  - id: no-placeholders
    kind: forbid-phrase
    severity: error
    message: requirement contains an unresolved placeholder
    phrases: [TBD, TBC, TODO, "???"]
  - id: min-length
    kind: min-length
    severity: info
    message: requirement is too short to be verifiable
    min_length: 12

sections:
  - section: "1"
    title: Scope
  - section: "2"
    title: Referenced documents
  - section: "3"
    title: Requirements
  - section: "3.2"
    title: Capability requirements
  - section: "3.3"
    title: External interface requirements
    require_tags: [interface]
    severity: warning
  - section: "3.7"
    title: Security requirements
    require_tags: [security]
    severity: warning
  - section: "4"
    title: Qualification provisions
  - section: "5"
    title: Requirements traceability
  - section: "6"
    title: Notes
`

// Rule is one item-level check.
type Rule struct {
	ID       string          `yaml:"id"`
	Kind     string          `yaml:"kind"`
	Severity models.Severity `yaml:"severity"`
	Message  string          `yaml:"message"`
	Scope    string          `yaml:"scope,omitempty"`

	// require-tag: the item must carry one of Tags, or any tag when empty.
	Tags []string `yaml:"tags,omitempty"`
	// min-length: minimum number of characters of text.
	MinLength int `yaml:"min_length,omitempty"`
	// forbid-phrase: case-insensitive phrases that must not appear.
	Phrases []string `yaml:"phrases,omitempty"`
	// require-modal: at least one of these words must appear.
	Modals []string `yaml:"modals,omitempty"`

	phraseRe *regexp.Regexp
	modalRe  *regexp.Regexp
}

// SectionSpec states what a numbered section is expected to hold. Lookups
// fall back to the nearest parent section, so a spec for "3" also covers
// "3.2.1" unless a closer one exists.
type SectionSpec struct {
	Section     string          `yaml:"section"`
	Title       string          `yaml:"title,omitempty"`
	RequireTags []string        `yaml:"require_tags,omitempty"`
	Severity    models.Severity `yaml:"severity,omitempty"`
	Message     string          `yaml:"message,omitempty"`
}

// Catalog models the rules YAML file.
type Catalog struct {
	Version  int           `yaml:"version"`
	Rules    []Rule        `yaml:"rules"`
	Sections []SectionSpec `yaml:"sections"`

	sections map[string]*SectionSpec
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog([]byte(defaultCatalogYAML))
	if err != nil {
		panic(fmt.Sprintf("rules: built-in catalog is invalid: %v", err))
	}
	return c
}

// LoadCatalog reads a catalog file. An empty path yields the built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule catalog: %w", err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog decodes and validates catalog YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse rule catalog: %w", err)
	}
	if err := c.compile(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) compile() error {
	seen := map[string]bool{}
	for i := range c.Rules {
		r := &c.Rules[i]
		if r.ID == "" {
			return fmt.Errorf("rule %d has no id", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		if !r.Severity.Valid() {
			return fmt.Errorf("rule %q: invalid severity %q", r.ID, r.Severity)
		}
		switch r.Scope {
		case "":
			r.Scope = ScopeBody
		case ScopeBody, ScopeHeading, ScopeAll:
		default:
			return fmt.Errorf("rule %q: invalid scope %q", r.ID, r.Scope)
		}
		if r.Message == "" {
			r.Message = r.ID
		}
		switch r.Kind {
		case KindRequireTag:
		case KindMinLength:
			if r.MinLength <= 0 {
				return fmt.Errorf("rule %q: min_length must be positive", r.ID)
			}
		case KindForbidPhrase:
			re, err := wordsRegexp(r.Phrases)
			if err != nil {
				return fmt.Errorf("rule %q: %w", r.ID, err)
			}
			r.phraseRe = re
		case KindRequireModal:
			re, err := wordsRegexp(r.Modals)
			if err != nil {
				return fmt.Errorf("rule %q: %w", r.ID, err)
			}
			r.modalRe = re
		default:
			return fmt.Errorf("rule %q: unknown kind %q", r.ID, r.Kind)
		}
	}

	c.sections = make(map[string]*SectionSpec, len(c.Sections))
	for i := range c.Sections {
		s := &c.Sections[i]
		if s.Section == "" {
			return fmt.Errorf("section spec %d has no section number", i)
		}
		if s.Severity == "" {
			s.Severity = models.SeverityWarning
		}
		if !s.Severity.Valid() {
			return fmt.Errorf("section %s: invalid severity %q", s.Section, s.Severity)
		}
		c.sections[s.Section] = s
	}
	return nil
}

// wordsRegexp matches any of words, case-insensitively, on word boundaries
// where the word itself starts or ends with a word character.
func wordsRegexp(words []string) (*regexp.Regexp, error) {
	if len(words) == 0 {
		return nil, fmt.Errorf("needs at least one word")
	}
	alts := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		q := regexp.QuoteMeta(w)
		if isWordChar(w[0]) {
			q = `\b` + q
		}
		if isWordChar(w[len(w)-1]) {
			q += `\b`
		}
		alts = append(alts, q)
	}
	if len(alts) == 0 {
		return nil, fmt.Errorf("needs at least one word")
	}
	return regexp.Compile(`(?i)(?:` + strings.Join(alts, "|") + `)`)
}

func isWordChar(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// Section returns the section expectations for number, falling back to the nearest
// parent section.
func (c *Catalog) Section(number string) (*SectionSpec, bool) {
	for number != "" {
		if s, ok := c.sections[number]; ok {
			return s, true
		}
		i := strings.LastIndex(number, ".")
		if i < 0 {
			break
		}
		number = number[:i]
	}
	return nil, false
}

// Evaluate runs every rule over items. Findings are ordered by item, then by
// rule order in the catalog.
func (c *Catalog) Evaluate(ctx context.Context, items []models.RequirementItem) ([]models.ValidationFinding, error) {
	var out []models.ValidationFinding
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		heading := hasTag(it, tagHeading)
		for i := range c.Rules {
			r := &c.Rules[i]
			if !r.applies(heading) {
				continue
			}
			if msg, ok := r.check(it); !ok {
				out = append(out, models.ValidationFinding{ItemID: it.ItemID, Severity: r.Severity, Message: msg, RuleID: r.ID})
			}
		}
		out = append(out, c.checkSection(it, heading)...)
	}
	return out, nil
}

func (r *Rule) applies(heading bool) bool {
	switch r.Scope {
	case ScopeAll:
		return true
	case ScopeHeading:
		return heading
	}
	return !heading
}

// check returns the finding message and false when it fails.
func (r *Rule) check(it models.RequirementItem) (string, bool) {
	switch r.Kind {
	case KindRequireTag:
		if len(r.Tags) == 0 {
			return r.Message, len(it.Tags) > 0
		}
		for _, want := range r.Tags {
			if hasTag(it, want) {
				return "", true
			}
		}
		return fmt.Sprintf("%s (one of: %s)", r.Message, strings.Join(r.Tags, ", ")), false
	case KindMinLength:
		if n := len([]rune(strings.TrimSpace(it.Text))); n < r.MinLength {
			return fmt.Sprintf("%s (%d < %d characters)", r.Message, n, r.MinLength), false
		}
	case KindForbidPhrase:
		if m := r.phraseRe.FindString(it.Text); m != "" {
			return fmt.Sprintf("%s: %q", r.Message, m), false
		}
	case KindRequireModal:
		if !r.modalRe.MatchString(it.Text) {
			return r.Message, false
		}
	}
	return "", true
}

func (c *Catalog) checkSection(it models.RequirementItem, heading bool) []models.ValidationFinding {
	if it.TitleNumber == "" {
		return nil
	}
	spec, ok := c.Section(it.TitleNumber)
	if !ok {
		return nil
	}
	if heading {
		if spec.Section != it.TitleNumber || spec.Title == "" || strings.EqualFold(strings.TrimSpace(it.Text), spec.Title) {
			return nil
		}
		return []models.ValidationFinding{{
			ItemID:   it.ItemID,
			Severity: models.SeverityInfo,
			Message:  fmt.Sprintf("section %s is expected to be titled %q", spec.Section, spec.Title),
			RuleID:   "section-title",
		}}
	}
	if len(spec.RequireTags) == 0 {
		return nil
	}
	for _, want := range spec.RequireTags {
		if hasTag(it, want) {
			return nil
		}
	}
	msg := spec.Message
	if msg == "" {
		msg = fmt.Sprintf("requirements under section %s must be tagged %s", spec.Section, strings.Join(spec.RequireTags, " or "))
	}
	return []models.ValidationFinding{{ItemID: it.ItemID, Severity: spec.Severity, Message: msg, RuleID: "section-" + spec.Section}}
}

func hasTag(it models.RequirementItem, tag string) bool {
	for _, t := range it.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

var _ pipeline.RuleSet = (*Catalog)(nil)
