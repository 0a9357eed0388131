// Package evaluation parses the structured block of an evaluation reply and
// checks it against the required field set.
package evaluation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/xhad/assess/internal/models"
)

type ErrorKind string

const (
	MalformedSyntax ErrorKind = "malformed_syntax"
	MissingField    ErrorKind = "missing_field"
	OutOfRange      ErrorKind = "out_of_range"
)

// ValidationError rejects a block in full. Field and Value identify the
// offending key when Kind is MissingField or OutOfRange.
type ValidationError struct {
	Kind  ErrorKind
	Field string
	Value interface{}
	Err   error
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case MissingField:
		return fmt.Sprintf("%s: %s", e.Kind, e.Field)
	case OutOfRange:
		return fmt.Sprintf("%s: %s=%v", e.Kind, e.Field, e.Value)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return string(e.Kind)
	}
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

var errNotObject = errors.New("top-level value is not an object")

// ParseAndValidate parses block as a JSON object, confirms every schema field is
// present and inside its domain, and returns the record. Values outside their
// domain are rejected, never clamped.
func ParseAndValidate(block string, schema Schema) (models.EvaluationRecord, error) {
	var rec models.EvaluationRecord
	schema = schema.resolve()

	doc, err := parseObject(block)
	if err != nil {
		return rec, &ValidationError{Kind: MalformedSyntax, Err: err}
	}

	for _, f := range schema.fields {
		if v, ok := doc[f.Name]; !ok || v == nil {
			return rec, &ValidationError{Kind: MissingField, Field: f.Name}
		}
	}

	values := make(map[string]interface{}, len(schema.fields))
	for _, f := range schema.fields {
		raw := doc[f.Name]
		v, ok := conform(f, raw)
		if !ok {
			return rec, &ValidationError{Kind: OutOfRange, Field: f.Name, Value: raw}
		}
		values[f.Name] = v
	}

	for name, v := range values {
		assign(&rec, name, v)
	}
	return rec, nil
}

func parseObject(block string) (map[string]interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(block))
	dec.UseNumber()

	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errNotObject
	}
	if _, err := dec.Token(); err != io.EOF {
		if err == nil {
			err = errors.New("unexpected content after object")
		}
		return nil, err
	}
	return doc, nil
}

// conform returns the normalised value (string, int64 or float64) when raw is
// inside the field's domain.
func conform(f Field, raw interface{}) (interface{}, bool) {
	switch f.Kind {
	case KindEnum:
		s, ok := raw.(string)
		if !ok {
			return nil, false
		}
		for _, allowed := range f.Values {
			if s == allowed {
				return s, true
			}
		}
		return nil, false

	case KindInteger:
		n, ok := raw.(json.Number)
		if !ok {
			return nil, false
		}
		fv, err := n.Float64()
		if err != nil || fv != math.Trunc(fv) || fv < f.Min || fv > f.Max {
			return nil, false
		}
		return int64(fv), true

	case KindNumber:
		n, ok := raw.(json.Number)
		if !ok {
			return nil, false
		}
		fv, err := n.Float64()
		if err != nil || fv < f.Min || fv > f.Max {
			return nil, false
		}
		return fv, true

	default:
		s, ok := raw.(string)
		return s, ok
	}
}

// assign copies a validated value into the record field with the same JSON name.
// Keys the record does not carry are ignored.
func assign(rec *models.EvaluationRecord, name string, v interface{}) {
	switch name {
	case "relevance":
		rec.Relevance = models.Relevance(asString(v))
	case "evaluation_score":
		rec.EvaluationScore = int(asFloat(v))
	case "overall_feedback":
		rec.OverallFeedback = asString(v)
	case "plagiarism":
		rec.Plagiarism = asFloat(v)
	case "readability_score":
		rec.ReadabilityScore = asFloat(v)
	case "cosine_score":
		rec.CosineScore = asFloat(v)
	case "jaccard_index":
		rec.JaccardIndex = asFloat(v)
	case "ai_text":
		rec.AIText = asString(v)
	}
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
