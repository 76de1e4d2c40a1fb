package calculation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/opensource-clinical/heron/internal/domain"
)

// ErrInvalidInput is matched by every *InputError.
var ErrInvalidInput = errors.New("invalid input")

// Conversion failure codes, alongside the range codes in domain.
const (
	CodeInvalidType      domain.ValueCode = "invalidType"
	CodeNotFinite        domain.ValueCode = "notFinite"
	CodeUnknownOption    domain.ValueCode = "unknownOption"
	CodeUnknownProcedure domain.ValueCode = "unknownProcedure"
	CodeUnknownVariable  domain.ValueCode = "unknownVariable"
)

// FieldError is one rejected input.
type FieldError struct {
	Key     string           `json:"key"`
	Code    domain.ValueCode `json:"code"`
	Message string           `json:"message"`
}

// InputError lists every rejected input, sorted by key.
type InputError struct {
	Fields []FieldError `json:"fields"`
}

func (e *InputError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Key + ": " + f.Message
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

func (e *InputError) add(key string, code domain.ValueCode, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Key: key, Code: code, Message: fmt.Sprintf(format, args...)})
}

// VariableSource resolves variable keys.
type VariableSource interface {
	Variable(key string) (domain.Variable, bool)
}

// ConvertValues turns raw inputs, as decoded from JSON, into typed values.
// A nil input is treated as absent. Every rejected input is reported in a
// single *InputError; configuration faults are returned as they are.
//
// Accepted forms per kind:
//   - boolean: true/false or a string strconv.ParseBool accepts
//   - numerical: a number or numeric string
//   - discreteNumerical: a number to classify, or an option string
//   - multiSelect: an option string
//   - procedure: a CPT code string, or an object with "cptCode"
func ConvertValues(vars VariableSource, inputs map[string]any) (domain.ValueMap, error) {
	values := make(domain.ValueMap, len(inputs))
	inputErr := &InputError{}

	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		raw := inputs[key]
		if raw == nil {
			continue
		}

		v, ok := vars.Variable(key)
		if !ok {
			inputErr.add(key, CodeUnknownVariable, "no variable with key %q", key)
			continue
		}

		value, err := convert(v, raw)
		if err != nil {
			var fe *FieldError
			var ive *domain.InvalidValueError
			switch {
			case errors.As(err, &fe):
				fe.Key = key
				inputErr.Fields = append(inputErr.Fields, *fe)
			case errors.As(err, &ive):
				inputErr.add(key, ive.Code, "%s", ive.Error())
			default:
				return nil, err
			}
			continue
		}
		values.Put(value)
	}

	if len(inputErr.Fields) > 0 {
		return nil, inputErr
	}
	return values, nil
}

func (f *FieldError) Error() string { return f.Message }

func fieldErr(code domain.ValueCode, format string, args ...any) *FieldError {
	return &FieldError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func convert(v domain.Variable, raw any) (domain.Value, error) {
	switch tv := v.(type) {
	case *domain.BooleanVariable:
		b, err := toBool(raw)
		if err != nil {
			return nil, err
		}
		return tv.NewValue(b), nil

	case *domain.NumericalVariable:
		x, err := toNumber(raw)
		if err != nil {
			return nil, err
		}
		return tv.NewValue(x)

	case *domain.DiscreteNumericalVariable:
		if s, ok := raw.(string); ok {
			if slices.ContainsFunc(tv.Options(), func(o domain.MultiSelectOption) bool { return o.Value() == s }) {
				return tv.NewValueFromOption(s)
			}
			if _, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
				return nil, fieldErr(CodeUnknownOption, "%q is not an option or a number", s)
			}
		}
		x, err := toNumber(raw)
		if err != nil {
			return nil, err
		}
		return tv.NewValue(x)

	case *domain.MultiSelectVariable:
		s, ok := raw.(string)
		if !ok {
			return nil, fieldErr(CodeInvalidType, "expected an option string, got %T", raw)
		}
		if _, ok := tv.OptionIndex(s); !ok {
			return nil, fieldErr(CodeUnknownOption, "%q is not an option", s)
		}
		return tv.NewValueFromOption(s)

	case *domain.AttachedProcedureVariable:
		code, err := toCptCode(raw)
		if err != nil {
			return nil, err
		}
		if _, ok := tv.Procedure(code); !ok {
			return nil, fieldErr(CodeUnknownProcedure, "no procedure with CPT code %q", code)
		}
		return tv.NewValueFromCode(code)

	case *domain.ProcedureVariable:
		return nil, fmt.Errorf("variable %q: %w", v.Key(), domain.ErrNotAttached)

	default:
		return nil, fmt.Errorf("variable %q: unsupported kind %s", v.Key(), v.Kind())
	}
}

func toBool(raw any) (bool, error) {
	switch x := raw.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return false, fieldErr(CodeInvalidType, "%q is not a boolean", x)
		}
		return b, nil
	default:
		return false, fieldErr(CodeInvalidType, "expected a boolean, got %T", raw)
	}
}

func toNumber(raw any) (float64, error) {
	var x float64
	switch n := raw.(type) {
	case float64:
		x = n
	case float32:
		x = float64(n)
	case int:
		x = float64(n)
	case int64:
		x = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fieldErr(CodeInvalidType, "%q is not a number", n.String())
		}
		x = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fieldErr(CodeInvalidType, "%q is not a number", n)
		}
		x = f
	default:
		return 0, fieldErr(CodeInvalidType, "expected a number, got %T", raw)
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, fieldErr(CodeNotFinite, "%v is not a finite number", x)
	}
	return x, nil
}

func toCptCode(raw any) (string, error) {
	switch x := raw.(type) {
	case string:
		return strings.TrimSpace(x), nil
	case map[string]any:
		if code, ok := x["cptCode"].(string); ok {
			return strings.TrimSpace(code), nil
		}
		return "", fieldErr(CodeInvalidType, "procedure object has no cptCode")
	default:
		return "", fieldErr(CodeInvalidType, "expected a CPT code, got %T", raw)
	}
}
