// Package filter decides whether an event is kept based on include and
// exclude pattern lists.
//
// A pattern list is written as a bracketed array of quoted strings:
//
//	['holiday', "/^out of office/i"]
//
// Entries wrapped in slashes are regular expressions, optionally followed
// by flags (i = ignore case, m = multi-line, s = dot matches newline). Any
// other entry is a case-insensitive substring.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"icscal/internal/model"
)

// ConfigError reports a pattern list that could not be parsed.
type ConfigError struct {
	Field string // "exclude" or "include"
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("filter: invalid %s list: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Filter holds compiled exclude and include patterns. The zero value keeps
// everything.
type Filter struct {
	exclude []*regexp.Regexp
	include []*regexp.Regexp
}

// New compiles the exclude and include pattern lists. An empty string is an
// empty list.
func New(exclude, include string) (*Filter, error) {
	ex, err := parseRules(exclude)
	if err != nil {
		return nil, &ConfigError{Field: "exclude", Err: err}
	}
	in, err := parseRules(include)
	if err != nil {
		return nil, &ConfigError{Field: "include", Err: err}
	}
	return &Filter{exclude: ex, include: in}, nil
}

// Filter reports whether an event with the given summary and description
// is kept. An event is dropped when an exclude pattern matches either field,
// unless an include pattern matches as well.
func (f *Filter) Filter(summary, description string) bool {
	if f == nil {
		return true
	}
	return matchAny(f.include, summary, description) || !matchAny(f.exclude, summary, description)
}

// FilterEvent is Filter applied to an event's summary and description.
func (f *Filter) FilterEvent(ev model.Event) bool {
	return f.Filter(ev.Summary, ev.Description)
}

func matchAny(rules []*regexp.Regexp, summary, description string) bool {
	for _, re := range rules {
		if re.MatchString(summary) || (description != "" && re.MatchString(description)) {
			return true
		}
	}
	return false
}

func parseRules(list string) ([]*regexp.Regexp, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil, nil
	}
	if !strings.HasPrefix(list, "[") || !strings.HasSuffix(list, "]") {
		return nil, errors.New("expected a bracketed list of strings")
	}

	// The list syntax is a YAML flow sequence of quoted scalars.
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(list), &doc); err != nil {
		return nil, errors.Wrap(err, "parse list")
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.SequenceNode {
		return nil, errors.New("expected a bracketed list of strings")
	}

	seq := doc.Content[0]
	rules := make([]*regexp.Regexp, 0, len(seq.Content))
	for i, item := range seq.Content {
		if item.Kind != yaml.ScalarNode || item.Style&(yaml.SingleQuotedStyle|yaml.DoubleQuotedStyle) == 0 {
			return nil, errors.Errorf("entry %d: expected a quoted string", i)
		}
		re, err := compileRule(item.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "entry %d", i)
		}
		rules = append(rules, re)
	}
	return rules, nil
}

func compileRule(rule string) (*regexp.Regexp, error) {
	if len(rule) < 2 || !strings.HasPrefix(rule, "/") {
		return regexp.Compile("(?i)" + regexp.QuoteMeta(rule))
	}

	end := strings.LastIndex(rule, "/")
	if end == 0 {
		// A lone leading slash is a literal.
		return regexp.Compile("(?i)" + regexp.QuoteMeta(rule))
	}
	expr, flags := rule[1:end], rule[end+1:]

	var prefix strings.Builder
	for _, fl := range flags {
		switch fl {
		case 'i', 'm', 's':
			if !strings.ContainsRune(prefix.String(), fl) {
				prefix.WriteRune(fl)
			}
		default:
			return nil, errors.Errorf("unknown regex flag %q in %q", fl, rule)
		}
	}

	if prefix.Len() > 0 {
		expr = "(?" + prefix.String() + ")" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid regex %q", rule)
	}
	return re, nil
}
