// Package parser holds the Parser capabilities: a heading-aware text parser
// for txt, md, docx and pdf content and a Gemini-backed extractor.
package parser

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/Lllllllleong/requirementflow/internal/models"
	"github.com/Lllllllleong/requirementflow/internal/pipeline"
)

// TagHeading marks items produced from section headings.
const TagHeading = "heading"

// maxHeadingTitle separates "3.2 Capability requirements" from a numbered
// sentence such as "1. The system shall restart within 5 s."
const maxHeadingTitle = 100

var (
	numberedHeading = regexp.MustCompile(`^(\d+(?:\.\d+)*)\.?[ \t]+(\S.*)$`)
	markdownHeading = regexp.MustCompile(`^(#{1,6})[ \t]+(.*?)[ \t#]*$`)
	bulletPrefix    = regexp.MustCompile(`^(?:[-*+•]|\(?[a-zA-Z0-9]{1,3}[.)])[ \t]+`)
	hashTag         = regexp.MustCompile(`(?:^|\s)#([A-Za-z][\w-]*)`)
)

// HeadingParser splits a document into section headings and the
// requirement paragraphs under them. Item ids are R1..Rn in document order.
type HeadingParser struct{}

// NewHeadingParser returns a HeadingParser.
func NewHeadingParser() *HeadingParser { return &HeadingParser{} }

type heading struct {
	itemID string
	number string
	level  int
}

func (p *HeadingParser) Parse(ctx context.Context, c pipeline.Content) ([]models.RequirementItem, error) {
	pages, err := extractText(c.FileType, c.Data)
	if err != nil {
		return nil, err
	}

	var (
		items   []models.RequirementItem
		stack   []heading
		current *models.RequirementItem
	)
	next := func() string { return fmt.Sprintf("R%d", len(items)+1) }
	flush := func() {
		if current != nil {
			current.Text = strings.TrimSpace(current.Text)
			current.Tags = hashTags(current.Text)
			items = append(items, *current)
			current = nil
		}
	}

	for _, pg := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		offset := 0
		for i, raw := range strings.Split(pg.Text, "\n") {
			lineOffset := offset
			offset += len(raw) + 1
			line := strings.TrimSpace(raw)
			if line == "" {
				flush()
				continue
			}
			loc := models.SourceLocation{Page: pg.Number, Line: i + 1, Offset: lineOffset}

			if number, title, level, ok := parseHeading(c.FileType, line); ok {
				flush()
				for len(stack) > 0 && stack[len(stack)-1].level >= level {
					stack = stack[:len(stack)-1]
				}
				h := heading{itemID: next(), number: number, level: level}
				item := models.RequirementItem{
					ItemID:         h.itemID,
					Text:           title,
					SourceLocation: loc,
					Tags:           []string{TagHeading},
					TitleNumber:    number,
					Level:          level,
				}
				if len(stack) > 0 {
					item.ParentID = stack[len(stack)-1].itemID
					if item.TitleNumber == "" {
						item.TitleNumber = stack[len(stack)-1].number
					}
				}
				items = append(items, item)
				stack = append(stack, h)
				continue
			}

			if current != nil && continues(current.Text, line) {
				current.Text += " " + line
				continue
			}
			flush()
			current = &models.RequirementItem{ItemID: next(), Text: line, SourceLocation: loc, Level: 1}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				current.ParentID = parent.itemID
				current.TitleNumber = parent.number
				current.Level = parent.level + 1
			}
		}
		flush()
	}

	if len(items) == 0 {
		return nil, errNoText
	}
	return items, nil
}

// parseHeading recognises numbered headings and, for markdown, '#' headings.
func parseHeading(fileType, line string) (number, title string, level int, ok bool) {
	if fileType == "md" {
		if m := markdownHeading.FindStringSubmatch(line); m != nil {
			title = m[2]
			level = len(m[1])
			if n := numberedHeading.FindStringSubmatch(title); n != nil {
				return n[1], n[2], len(strings.Split(n[1], ".")), true
			}
			return "", title, level, title != ""
		}
	}
	m := numberedHeading.FindStringSubmatch(line)
	if m == nil {
		return "", "", 0, false
	}
	title = strings.TrimSpace(m[2])
	if len(title) > maxHeadingTitle || strings.HasSuffix(title, ".") {
		return "", "", 0, false
	}
	return m[1], title, len(strings.Split(m[1], ".")), true
}

// continues reports whether line is a wrapped continuation of text.
func continues(text, line string) bool {
	if bulletPrefix.MatchString(line) {
		return false
	}
	last := text[len(text)-1]
	if strings.ContainsRune(".;:!?", rune(last)) {
		return false
	}
	first := []rune(line)[0]
	return unicode.IsLower(first) || unicode.IsDigit(first) || last == ','
}

func hashTags(text string) []string {
	var tags []string
	seen := map[string]bool{}
	for _, m := range hashTag.FindAllStringSubmatch(text, -1) {
		tag := strings.ToLower(m[1])
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return tags
}

var _ pipeline.Parser = (*HeadingParser)(nil)
