package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// Converter turns a raw capture into a typed value
type Converter func(raw string) (any, error)

// TypeDef is one entry of the placeholder registry
type TypeDef struct {
	Regex   string
	Convert Converter
}

// All sub-patterns are non-capturing so that the only groups a placeholder
// contributes is its own.
var registry = map[string]TypeDef{
	"IP":               {Regex: `(?:\d{1,3}(?:\.\d{1,3}){3})|(?:(?:[a-fA-F0-9]{0,4}:){2,7}[a-fA-F0-9]{0,4})`},
	"IP4":              {Regex: `\d{1,3}(?:\.\d{1,3}){3}`},
	"IP6":              {Regex: `(?:[a-fA-F0-9]{0,4}:){2,7}[a-fA-F0-9]{0,4}`},
	"NUM":              {Regex: `[+-]?\d+`, Convert: convertInt},
	"ALNUM":            {Regex: `[a-zA-Z0-9]+`},
	"FLOAT":            {Regex: `[+-]?(?:\d+(?:\.\d*)?|\.\d+)(?:[eE][+-]?\d+)?`, Convert: convertFloat},
	"ALPHA":            {Regex: `[a-zA-Z]+`},
	"STR":              {Regex: `\S+`},
	"SPACE":            {Regex: `\s+`},
	"NAME":             {Regex: `[-a-zA-Z0-9_]+`},
	"VERSION":          {Regex: `\d+[.]\d+`},
	"WORD":             {Regex: `\w+`},
	"HEX":              {Regex: `[A-Fa-f0-9]+`},
	"TIME":             {Regex: `\d{1,2}[:.]\d{1,2}(?:[:.]\d{1,2}(?:[.]\d+)?)?`},
	"AUTH_DATE":        {Regex: `[a-zA-Z]+ +\d{1,2}`},
	"APACHE_TIMESTAMP": {Regex: `\[\d+/[a-zA-Z]+/\d+:\d+:\d+:\d+\s[+-]?\d+\]`, Convert: convertApache},
	"SYSLOG_TIMESTAMP": {Regex: `[A-Za-z]+\s+\d+\s+\d+:\d+:\d+`, Convert: convertSyslog},
	"ISOTIME":          {Regex: `\d{4}-[01]\d-[0-3]\dT[0-2]\d:[0-5]\d:[0-5]\d(?:\.\d+)?(?:[+-][0-2]\d:?[0-5]\d|Z)?`, Convert: convertISO},
	"DATE":             {Regex: `\d{4}-[01]\d-[0-3]\d`},
	"%":                {Regex: `%`},
}

var aliases = map[string]string{
	"IPV4": "IP4",
	"IPV6": "IP6",
	"INT":  "NUM",
}

func lookupType(name string) (TypeDef, bool) {
	if target, ok := aliases[name]; ok {
		name = target
	}
	def, ok := registry[name]
	return def, ok
}

// Types returns the registered placeholder type names
func Types() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

func convertInt(raw string) (any, error) {
	v, err := strconv.ParseInt(strings.TrimPrefix(raw, "+"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidFieldValue, raw)
	}
	return v, nil
}

func convertFloat(raw string) (any, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a float", ErrInvalidFieldValue, raw)
	}
	return v, nil
}

func convertApache(raw string) (any, error) {
	return ParseApacheTimestamp(raw)
}

func convertSyslog(raw string) (any, error) {
	return ParseSyslogTimestamp(raw)
}

func convertISO(raw string) (any, error) {
	return ValidateISO8601(raw)
}
