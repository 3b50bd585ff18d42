package wschain

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/ohler55/ojg/jp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/xeipuuv/gojsonschema"
)

// MatchJSONPath checks that the JSONPath expression selects a value equal
// to expected. A nil expected only requires the path to exist.
func MatchJSONPath(path string, expected any) Check {
	label := fmt.Sprintf("matching JSONPath %s", path)
	if expected != nil {
		label += " == " + stringify(expected)
	}

	x, err := jp.ParseString(path)
	if err != nil {
		return Check{label: label, fn: func(any) error {
			return errors.Wrapf(err, "invalid JSONPath %q", path)
		}}
	}

	want, err := normalizeJSON(expected)
	if err != nil {
		return Check{label: label, fn: func(any) error { return err }}
	}

	return Check{label: label, fn: func(v any) error {
		results := x.Get(v)
		if len(results) == 0 {
			return errors.Errorf("%s selected nothing", path)
		}
		if expected == nil {
			return nil
		}
		for _, r := range results {
			if assert.ObjectsAreEqual(want, r) {
				return nil
			}
		}
		return errors.Errorf("%s selected %s", path, stringify(results))
	}}
}

// MatchExpr evaluates a boolean expr-lang expression with the converted
// message bound to `msg`.
func MatchExpr(expression string) Check {
	label := fmt.Sprintf("matching expression %q", expression)

	program, err := expr.Compile(expression, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return Check{label: label, fn: func(any) error {
			return errors.Wrap(err, "invalid expression")
		}}
	}

	return Check{label: label, fn: func(v any) error {
		out, err := expr.Run(program, map[string]any{"msg": v})
		if err != nil {
			return err
		}
		if ok, _ := out.(bool); !ok {
			return errCheckFalse
		}
		return nil
	}}
}

// MatchJSONSchema validates the converted message against a JSON schema
// document.
func MatchJSONSchema(schema string) Check {
	schemaLoader := gojsonschema.NewStringLoader(schema)
	compiled, err := gojsonschema.NewSchema(schemaLoader)

	return Check{label: "matching JSON schema", fn: func(v any) error {
		if err != nil {
			return errors.Wrap(err, "invalid schema")
		}

		result, err := compiled.Validate(gojsonschema.NewGoLoader(v))
		if err != nil {
			return err
		}
		if result.Valid() {
			return nil
		}

		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return errors.New(strings.Join(details, "; "))
	}}
}
