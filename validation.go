package shelfdb

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"slices"
	"time"

	"github.com/shelfdb/shelfdb.go/pkg/models"
)

// Type tags of Rule.Type.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeDate    = "date"
	TypeObject  = "object"
	TypeArray   = "array"
)

// Rule validates one field. Every set part has to pass. A type implies
// the field is present.
type Rule struct {
	Type string
	// Required fails on a missing field, nil, "", 0 and NaN. false is a
	// value.
	Required bool
	// Validate is called with the field value and the whole document.
	Validate func(value any, doc models.Document) bool
	// Pattern has to match the value, which must be a string.
	Pattern *regexp.Regexp
}

// IsType is the rule for a bare type tag.
func IsType(tag string) Rule {
	return Rule{Type: tag}
}

// Custom is the rule for a bare predicate.
func Custom(fn func(value any, doc models.Document) bool) Rule {
	return Rule{Validate: fn}
}

// Matches is the rule for a bare pattern.
func Matches(re *regexp.Regexp) Rule {
	return Rule{Pattern: re}
}

// Required is the rule for a field that must not be empty.
func Required() Rule {
	return Rule{Required: true}
}

func (r Rule) check(field string, doc models.Document) error {
	value := doc[field]

	fail := func(format string, args ...any) error {
		return &Error{Kind: ErrValidationFailed, Op: "validate", Field: field, Message: fmt.Sprintf(format, args...)}
	}

	if r.Required && isEmpty(value) {
		return fail("expected required field to be not empty")
	}
	if r.Type != "" {
		ok, known := hasType(r.Type, value)
		if !known {
			return fail("unknown type %q", r.Type)
		}
		if !ok {
			return fail("expected type %s, was %s", r.Type, typeName(value))
		}
	}
	if r.Validate != nil && !r.Validate(value, doc) {
		return fail("a custom validation failed")
	}
	if r.Pattern != nil {
		s, ok := value.(string)
		if !ok || !r.Pattern.MatchString(s) {
			return fail("validating %s failed", r.Pattern)
		}
	}
	return nil
}

// validate runs rules over doc, in field order, and returns the first
// failure.
func validate(rules map[string]Rule, doc models.Document) error {
	fields := make([]string, 0, len(rules))
	for f := range rules {
		fields = append(fields, f)
	}
	slices.Sort(fields)

	for _, f := range fields {
		if err := rules[f].check(f, doc); err != nil {
			return err
		}
	}
	return nil
}

// validateGraph validates docs and, through their populated relations,
// every nested item against its own store's rules.
func (s *Store) validateGraph(docs []models.Document, path trail) error {
	rules := s.rules()
	hasMany, hasOne := s.relationTargets()

	for _, doc := range docs {
		if err := validate(rules, doc); err != nil {
			return err
		}
		here := path.with(doc)

		for field, target := range hasMany {
			subs, ok := models.AsDocuments(doc[field])
			if !ok {
				continue
			}
			subs = slices.DeleteFunc(slices.Clone(subs), here.has)
			if err := target.validateGraph(subs, here); err != nil {
				return err
			}
		}
		for field, target := range hasOne {
			sub, ok := models.AsDocument(doc[field])
			if !ok || here.has(sub) {
				continue
			}
			if err := target.validateGraph([]models.Document{sub}, here); err != nil {
				return err
			}
		}
	}
	return nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return false
	case string:
		return t == ""
	}
	if f, ok := toFloat(v); ok {
		return f == 0 || math.IsNaN(f)
	}
	return false
}

// hasType reports whether v has type tag; known is false for an unknown
// tag.
func hasType(tag string, v any) (ok, known bool) {
	switch tag {
	case TypeString:
		_, ok = v.(string)
	case TypeNumber:
		f, isNum := toFloat(v)
		ok = isNum && !math.IsNaN(f)
	case TypeBoolean:
		_, ok = v.(bool)
	case TypeDate:
		ok = isDate(v)
	case TypeObject:
		_, ok = toMap(v)
	case TypeArray:
		if v != nil {
			k := reflect.TypeOf(v).Kind()
			ok = k == reflect.Slice || k == reflect.Array
		}
	default:
		return false, false
	}
	return ok, true
}

// isDate accepts times and, since text engines store times as text,
// RFC 3339 strings.
func isDate(v any) bool {
	switch t := v.(type) {
	case time.Time:
		return true
	case *time.Time:
		return t != nil
	case string:
		_, err := time.Parse(time.RFC3339Nano, t)
		return err == nil
	default:
		return false
	}
}

func typeName(v any) string {
	switch {
	case v == nil:
		return "nothing"
	case isDate(v):
		if _, ok := v.(string); !ok {
			return TypeDate
		}
		return TypeString
	}
	for _, tag := range []string{TypeString, TypeNumber, TypeBoolean, TypeObject, TypeArray} {
		if ok, _ := hasType(tag, v); ok {
			return tag
		}
	}
	return fmt.Sprintf("%T", v)
}
