package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/parser"
)

// Transform names the final type of an emitted field
type Transform string

const (
	TransformDate   Transform = "date"
	TransformInt    Transform = "int"
	TransformFloat  Transform = "float"
	TransformString Transform = "str"
	TransformBool   Transform = "bool"
)

func (t Transform) valid() bool {
	switch t {
	case TransformDate, TransformInt, TransformFloat, TransformString, TransformBool:
		return true
	}
	return false
}

// apply converts a rendered field value. Failures wrap
// parser.ErrInvalidFieldValue.
func (t Transform) apply(raw string) (any, error) {
	switch t {
	case TransformDate:
		ts, err := parser.ParseISO8601(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a date", parser.ErrInvalidFieldValue, raw)
		}
		return ts, nil
	case TransformInt:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", parser.ErrInvalidFieldValue, raw)
		}
		return n, nil
	case TransformFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a float", parser.ErrInvalidFieldValue, raw)
		}
		return f, nil
	case TransformString:
		return raw, nil
	case TransformBool:
		switch strings.ToLower(raw) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("%w: %q is not a boolean", parser.ErrInvalidFieldValue, raw)
	}
	return nil, fmt.Errorf("%w: unknown transform %q", parser.ErrInvalidFieldValue, string(t))
}
