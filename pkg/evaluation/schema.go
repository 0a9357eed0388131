package evaluation

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

type FieldKind int

const (
	KindString FieldKind = iota
	KindEnum
	KindInteger
	KindNumber
)

// Field describes one required key of the evaluation object and its value domain.
// Min and Max are inclusive and only apply to KindInteger and KindNumber.
type Field struct {
	Name   string
	Kind   FieldKind
	Values []string
	Min    float64
	Max    float64
}

// Domain renders the field's value domain for prompts and error messages.
func (f Field) Domain() string {
	switch f.Kind {
	case KindEnum:
		return "one of: " + strings.Join(f.Values, ", ")
	case KindInteger:
		return fmt.Sprintf("integer %s-%s", formatBound(f.Min), formatBound(f.Max))
	case KindNumber:
		return fmt.Sprintf("number %s-%s", formatBound(f.Min), formatBound(f.Max))
	default:
		return "string"
	}
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// recordFields are the keys an EvaluationRecord is built from. Every schema
// carries all of them with exactly these domains.
var recordFields = []Field{
	{Name: "relevance", Kind: KindEnum, Values: []string{"low", "medium", "high"}},
	{Name: "evaluation_score", Kind: KindInteger, Min: 1, Max: 100},
	{Name: "overall_feedback", Kind: KindString},
	{Name: "plagiarism", Kind: KindNumber, Min: 0, Max: 1},
	{Name: "readability_score", Kind: KindNumber, Min: 0, Max: 100},
	{Name: "cosine_score", Kind: KindNumber, Min: 0, Max: 1},
	{Name: "jaccard_index", Kind: KindNumber, Min: 0, Max: 1},
	{Name: "ai_text", Kind: KindString},
}

// Schema is the ordered set of required fields. Order decides which missing
// field is reported first. The zero Schema validates as DefaultSchema.
type Schema struct {
	fields []Field
}

// NewSchema builds a schema and panics on a malformed definition. The record
// fields must all be present with their default domains; any other field is
// an extra required key.
func NewSchema(fields ...Field) Schema {
	seen := make(map[string]Field, len(fields))
	for i, f := range fields {
		if strings.TrimSpace(f.Name) == "" {
			panic(fmt.Sprintf("evaluation: field %d has no name", i))
		}
		if _, dup := seen[f.Name]; dup {
			panic(fmt.Sprintf("evaluation: duplicate field %q", f.Name))
		}
		seen[f.Name] = f

		switch f.Kind {
		case KindEnum:
			if len(f.Values) == 0 {
				panic(fmt.Sprintf("evaluation: enum field %q has no values", f.Name))
			}
		case KindInteger, KindNumber:
			if f.Min > f.Max {
				panic(fmt.Sprintf("evaluation: field %q has min %v > max %v", f.Name, f.Min, f.Max))
			}
		case KindString:
		default:
			panic(fmt.Sprintf("evaluation: field %q has unknown kind %d", f.Name, f.Kind))
		}
	}

	for _, want := range recordFields {
		got, ok := seen[want.Name]
		if !ok {
			panic(fmt.Sprintf("evaluation: record field %q missing from schema", want.Name))
		}
		if !sameDomain(got, want) {
			panic(fmt.Sprintf("evaluation: record field %q redeclared as %s, want %s",
				want.Name, got.Domain(), want.Domain()))
		}
	}

	copied := make([]Field, len(fields))
	copy(copied, fields)
	return Schema{fields: copied}
}

func sameDomain(a, b Field) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindEnum:
		return slices.Equal(a.Values, b.Values)
	case KindInteger, KindNumber:
		return a.Min == b.Min && a.Max == b.Max
	}
	return true
}

// DefaultSchema returns the eight-field evaluation contract.
func DefaultSchema() Schema {
	return NewSchema(recordFields...)
}

// Extend returns the default schema followed by extra required fields.
func Extend(extra ...Field) Schema {
	return NewSchema(append(slices.Clone(recordFields), extra...)...)
}

func (s Schema) Fields() []Field {
	fields := s.resolve().fields
	out := make([]Field, len(fields))
	copy(out, fields)
	return out
}

func (s Schema) resolve() Schema {
	if len(s.fields) == 0 {
		return DefaultSchema()
	}
	return s
}
