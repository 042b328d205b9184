package lint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/fentz26/csvls/internal/models"
)

// Source is attached to every diagnostic.
const Source = "csvlinter"

// ErrorListPaths are the accepted locations of the error list, in order of
// preference. Validator releases have moved the list between them; the first
// path present in a payload wins.
var ErrorListPaths = [][]string{
	{"errors"},
	{"validation", "errors"},
	{"results", "errors"},
}

// Translate extracts diagnostics from raw validator output. Banner text
// around the JSON object is ignored.
func Translate(raw string) ([]models.Diagnostic, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object found", ErrMalformedOutput)
	}

	dec := json.NewDecoder(strings.NewReader(raw[start : end+1]))
	dec.UseNumber()
	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	records, err := errorList(doc)
	if err != nil {
		return nil, err
	}

	diags := make([]models.Diagnostic, 0, len(records))
	for _, rec := range records {
		diags = append(diags, toDiagnostic(rec))
	}
	return diags, nil
}

func errorList(doc map[string]interface{}) ([]interface{}, error) {
	for _, path := range ErrorListPaths {
		v, ok := lookup(doc, path)
		if !ok {
			continue
		}
		switch list := v.(type) {
		case nil:
			return nil, nil
		case []interface{}:
			return list, nil
		default:
			return nil, fmt.Errorf("%w: %s is not a list", ErrMalformedOutput, strings.Join(path, "."))
		}
	}
	return nil, nil
}

func lookup(doc map[string]interface{}, path []string) (interface{}, bool) {
	var cur interface{} = doc
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func toDiagnostic(rec interface{}) models.Diagnostic {
	fields, _ := rec.(map[string]interface{})

	line := lineNumber(fields["line_number"])
	if line <= 0 {
		line = lineNumber(fields["line"])
	}
	if line <= 0 {
		line = 1
	}

	msg := stringField(fields, "message")
	if msg == "" {
		msg = stringField(fields, "description")
	}
	if msg == "" {
		msg = render(rec)
	}

	kind := stringField(fields, "type")
	if kind == "" {
		kind = stringField(fields, "kind")
	}
	if kind != "" {
		msg = fmt.Sprintf("%s [%s]", msg, kind)
	}

	return models.Diagnostic{
		Line:      line - 1,
		StartChar: 0,
		EndChar:   math.MaxInt32,
		Message:   msg,
		Severity:  models.SeverityError,
		Source:    Source,
		Kind:      kind,
	}
}

func lineNumber(v interface{}) int {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		if f, err := n.Float64(); err == nil {
			return int(f)
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return 0
}

func stringField(fields map[string]interface{}, key string) string {
	if fields == nil {
		return ""
	}
	s, _ := fields[key].(string)
	return s
}

func render(v interface{}) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimSpace(buf.String())
}
