package draft

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	tagPattern  = regexp.MustCompile(`<[^>]*>`)
)

// Rules are the structural limits a draft must satisfy.
type Rules struct {
	MaxTitleLength    int
	MinDescription    int
	MaxDescription    int
	MinBodyWords      int
	MinFAQ            int
	MaxSlugLength     int
	RequireHTTPSource bool
}

func DefaultRules() Rules {
	return Rules{
		MaxTitleLength:    110,
		MinDescription:    70,
		MaxDescription:    170,
		MinBodyWords:      300,
		MinFAQ:            3,
		MaxSlugLength:     120,
		RequireHTTPSource: true,
	}
}

// Validator checks drafts against Rules.
type Validator struct {
	rules Rules
}

func NewValidator(rules Rules) *Validator {
	return &Validator{rules: rules}
}

// Validate returns every problem found; an empty result means the draft is valid.
func (v *Validator) Validate(d *Draft) []string {
	if d == nil {
		return []string{"draft is empty"}
	}
	var problems []string

	if d.Slug == "" {
		problems = append(problems, "slug is required")
	} else if !slugPattern.MatchString(d.Slug) {
		problems = append(problems, fmt.Sprintf("slug %q must be lowercase words joined by hyphens", d.Slug))
	} else if len(d.Slug) > v.rules.MaxSlugLength {
		problems = append(problems, fmt.Sprintf("slug must be at most %d characters", v.rules.MaxSlugLength))
	}

	title := strings.TrimSpace(d.Title)
	if title == "" {
		problems = append(problems, "title is required")
	} else if n := utf8.RuneCountInString(title); n > v.rules.MaxTitleLength {
		problems = append(problems, fmt.Sprintf("title is %d characters, max %d", n, v.rules.MaxTitleLength))
	}

	if n := utf8.RuneCountInString(strings.TrimSpace(d.Description)); n < v.rules.MinDescription || n > v.rules.MaxDescription {
		problems = append(problems, fmt.Sprintf("description is %d characters, want %d-%d",
			n, v.rules.MinDescription, v.rules.MaxDescription))
	}

	if strings.TrimSpace(d.Category) == "" {
		problems = append(problems, "category is required")
	}

	words := len(strings.Fields(tagPattern.ReplaceAllString(d.Body, " ")))
	if words < v.rules.MinBodyWords {
		problems = append(problems, fmt.Sprintf("body has %d words, min %d", words, v.rules.MinBodyWords))
	}

	if len(d.FAQ) < v.rules.MinFAQ {
		problems = append(problems, fmt.Sprintf("faq has %d items, min %d", len(d.FAQ), v.rules.MinFAQ))
	}
	for i, item := range d.FAQ {
		if strings.TrimSpace(item.Question) == "" || strings.TrimSpace(item.Answer) == "" {
			problems = append(problems, fmt.Sprintf("faq item %d needs a question and an answer", i+1))
		}
	}

	if v.rules.RequireHTTPSource {
		for i, src := range d.Sources {
			u, err := url.Parse(src.URL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				problems = append(problems, fmt.Sprintf("source %d has an invalid url %q", i+1, src.URL))
			}
		}
	}

	return problems
}
