package usecase

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/user/corpus-trainer/pkg/config"
	"github.com/user/corpus-trainer/pkg/utils"
)

// FieldRule pulls one named value out of a DOM scope. Selectors are tried in
// order and the first that yields a non-empty value wins.
type FieldRule struct {
	Name      string
	Selectors []string
	Mode      string // text, attr, count, html
	Attr      string
	Pattern   *regexp.Regexp
	Required  bool
}

// Rules is the compiled extraction configuration.
type Rules struct {
	RecordSelector    string
	MaxRecordsPerPage int
	TextField         string
	LabelField        string
	LabelMap          map[string]string
	Fields            []FieldRule
}

// CompileRules validates selectors and patterns from configuration.
func CompileRules(cfg config.ExtractConfig) (*Rules, error) {
	rules := &Rules{
		RecordSelector:    cfg.RecordSelector,
		MaxRecordsPerPage: cfg.MaxRecordsPerPage,
		TextField:         cfg.TextField,
		LabelField:        cfg.LabelField,
		LabelMap:          make(map[string]string, len(cfg.LabelMap)),
	}
	for k, v := range cfg.LabelMap {
		rules.LabelMap[strings.ToLower(k)] = v
	}

	for _, f := range cfg.Fields {
		rule := FieldRule{
			Name:      f.Name,
			Selectors: f.Selectors,
			Mode:      f.Mode,
			Attr:      f.Attr,
			Required:  f.Required,
		}
		if rule.Mode == "" {
			rule.Mode = "text"
		}
		if f.Pattern != "" {
			re, err := regexp.Compile(f.Pattern)
			if err != nil {
				return nil, fmt.Errorf("field %s: compile pattern: %w", f.Name, err)
			}
			rule.Pattern = re
		}
		rules.Fields = append(rules.Fields, rule)
	}
	return rules, nil
}

// mapLabel applies the configured label mapping; unmapped values pass through.
func (r *Rules) mapLabel(raw string) string {
	if mapped, ok := r.LabelMap[strings.ToLower(raw)]; ok {
		return mapped
	}
	return raw
}

func (r FieldRule) evaluate(scope *goquery.Selection) (string, bool) {
	for _, selector := range r.Selectors {
		found := scope.Find(selector)
		if found.Length() == 0 {
			continue
		}

		var value string
		switch r.Mode {
		case "count":
			value = strconv.Itoa(found.Length())
		case "attr":
			attr, ok := found.First().Attr(r.Attr)
			if !ok {
				continue
			}
			value = strings.TrimSpace(attr)
		case "html":
			html, err := found.First().Html()
			if err != nil {
				continue
			}
			value = strings.TrimSpace(html)
		default:
			value = utils.CollapseWhitespace(found.First().Text())
		}

		if r.Pattern != nil {
			m := r.Pattern.FindStringSubmatch(value)
			if m == nil {
				continue
			}
			value = m[0]
			if len(m) > 1 {
				value = m[1]
			}
		}
		if value != "" {
			return value, true
		}
	}
	return "", false
}
