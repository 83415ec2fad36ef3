package dballe

import (
	_ "embed"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed tableb.yaml
var tableBYAML []byte

// Variable types as reported to front-ends in the "vt" field.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeDecimal = "decimal"
)

var varcodeRE = regexp.MustCompile(`^B\d{5}$`)

// VarInfo is a table B entry.
type VarInfo struct {
	Code  string `yaml:"code"`
	Desc  string `yaml:"desc"`
	Unit  string `yaml:"unit"`
	Scale int    `yaml:"scale"`
	Ref   int64  `yaml:"ref"`
	Bits  int    `yaml:"bits"`
	Len   int    `yaml:"len"`
}

// Type returns the value type of the variable: string, integer or decimal.
func (i VarInfo) Type() string {
	switch {
	case i.Unit == "CCITTIA5":
		return TypeString
	case i.Scale > 0:
		return TypeDecimal
	default:
		return TypeInteger
	}
}

// IsNumeric reports whether values carry a scale.
func (i VarInfo) IsNumeric() bool {
	return i.Type() != TypeString
}

// Coerce converts v into the Go type used for this variable.
func (i VarInfo) Coerce(v any) (any, error) {
	switch i.Type() {
	case TypeString:
		switch val := v.(type) {
		case string:
			return val, nil
		case fmt.Stringer:
			return val.String(), nil
		default:
			return fmt.Sprint(val), nil
		}
	case TypeInteger:
		switch val := v.(type) {
		case int:
			return val, nil
		case int64:
			return int(val), nil
		case float64:
			if val != math.Trunc(val) {
				return nil, fmt.Errorf("%s: %v is not an integer", i.Code, val)
			}
			return int(val), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil {
				return nil, fmt.Errorf("%s: %q is not an integer", i.Code, val)
			}
			return n, nil
		}
	case TypeDecimal:
		switch val := v.(type) {
		case float64:
			return val, nil
		case int:
			return float64(val), nil
		case int64:
			return float64(val), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				return nil, fmt.Errorf("%s: %q is not a number", i.Code, val)
			}
			return f, nil
		}
	}
	return nil, fmt.Errorf("%s: cannot use %T as %s", i.Code, v, i.Type())
}

// Encode renders a value as the canonical string stored by the engine.
func (i VarInfo) Encode(v any) (string, error) {
	val, err := i.Coerce(v)
	if err != nil {
		return "", err
	}
	switch x := val.(type) {
	case int:
		return strconv.Itoa(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', i.Scale, 64), nil
	default:
		return val.(string), nil
	}
}

// Decode parses a stored string back to the variable's Go type.
func (i VarInfo) Decode(s string) (any, error) {
	return i.Coerce(s)
}

// Describe returns "code: description".
func (i VarInfo) Describe() string {
	return i.Code + ": " + i.Desc
}

var (
	tableOnce sync.Once
	table     map[string]VarInfo
	tableErr  error
)

func loadTable() {
	var entries []VarInfo
	if err := yaml.Unmarshal(tableBYAML, &entries); err != nil {
		tableErr = fmt.Errorf("parsing table B: %w", err)
		return
	}
	table = make(map[string]VarInfo, len(entries))
	for _, e := range entries {
		table[e.Code] = e
	}
}

// LookupVar returns the table B entry for code.
func LookupVar(code string) (VarInfo, error) {
	tableOnce.Do(loadTable)
	if tableErr != nil {
		return VarInfo{}, tableErr
	}
	info, ok := table[code]
	if !ok {
		return VarInfo{}, fmt.Errorf("%w: %s", ErrUnknownVarcode, code)
	}
	return info, nil
}

// ValidVarcode reports whether code looks like a table B code (Bxxyyy).
func ValidVarcode(code string) bool {
	return varcodeRE.MatchString(code)
}

// DescribeVar returns a human readable description for a varcode, falling
// back to the code itself when it is not in the table.
func DescribeVar(code string) string {
	info, err := LookupVar(code)
	if err != nil {
		return code
	}
	return info.Describe()
}
