package builtin

import (
	"fmt"
	"regexp"
	"strings"

	"silverload/internal/schema"
	"silverload/pkg/records"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Uppercase upper-cases the string values of Column using Unicode rules
// ("straße" becomes "STRASSE"). Other values are left alone.
type Uppercase struct {
	Column string
}

func (u Uppercase) Apply(in []records.Record) []records.Record {
	// a Caser keeps state and is not safe for concurrent use
	c := cases.Upper(language.Und)
	for _, r := range in {
		if s, ok := r[u.Column].(string); ok {
			r[u.Column] = c.String(s)
		}
	}
	return in
}

func (u Uppercase) MapSchema(s schema.Schema) schema.Schema { return s }

// StringReplace replaces every occurrence of From in Column with To. With
// Regex set, From is a regular expression and To may use $1 style
// references.
type StringReplace struct {
	Column string
	From   string
	To     string
	Regex  bool

	re *regexp.Regexp
}

// NewStringReplace validates and compiles the replacement.
func NewStringReplace(column, from, to string, regex bool) (StringReplace, error) {
	if from == "" {
		return StringReplace{}, fmt.Errorf("string_replace: from must not be empty")
	}
	sr := StringReplace{Column: column, From: from, To: to, Regex: regex}
	if regex {
		re, err := regexp.Compile(from)
		if err != nil {
			return StringReplace{}, fmt.Errorf("string_replace: %w", err)
		}
		sr.re = re
	}
	return sr, nil
}

func (sr StringReplace) Apply(in []records.Record) []records.Record {
	re := sr.re
	if sr.Regex && re == nil {
		re = regexp.MustCompile(sr.From)
	}
	for _, r := range in {
		s, ok := r[sr.Column].(string)
		if !ok {
			continue
		}
		if re != nil {
			r[sr.Column] = re.ReplaceAllString(s, sr.To)
		} else {
			r[sr.Column] = strings.ReplaceAll(s, sr.From, sr.To)
		}
	}
	return in
}

func (sr StringReplace) MapSchema(s schema.Schema) schema.Schema { return s }
