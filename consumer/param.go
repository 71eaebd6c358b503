package consumer

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/glimte/fleck-go/contracts"
)

// ParamType is the declared type of an action parameter
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

var typeAliases = map[string]ParamType{
	"text":    TypeString,
	"integer": TypeNumber,
	"float":   TypeNumber,
	"hash":    TypeObject,
}

// ResolveType returns the canonical type for name, resolving aliases
func ResolveType(name string) (ParamType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if alias, ok := typeAliases[name]; ok {
		return alias, nil
	}

	switch t := ParamType(name); t {
	case TypeString, TypeNumber, TypeBoolean, TypeObject, TypeArray:
		return t, nil
	}
	return "", fmt.Errorf("invalid param type: %q", name)
}

// ParamSpec declares an action parameter and how it is validated
type ParamSpec struct {
	Name     string
	Type     ParamType
	Required bool

	def        interface{}
	hasDefault bool
	clamp      *[2]float64
	min        *float64
	max        *float64
	format     *regexp.Regexp
	pattern    string
}

// ParamOption configures a ParamSpec
type ParamOption func(*ParamSpec)

// Required rejects requests that omit the parameter and have no default
func Required() ParamOption {
	return func(p *ParamSpec) {
		p.Required = true
	}
}

// Default substitutes value when the parameter is absent
func Default(value interface{}) ParamOption {
	return func(p *ParamSpec) {
		p.def = value
		p.hasDefault = true
	}
}

// Clamp normalizes numbers into [min, max]
func Clamp(min, max float64) ParamOption {
	return func(p *ParamSpec) {
		p.clamp = &[2]float64{min, max}
	}
}

// Min rejects numbers below min with out_of_range
func Min(min float64) ParamOption {
	return func(p *ParamSpec) {
		p.min = &min
	}
}

// Max rejects numbers above max with out_of_range
func Max(max float64) ParamOption {
	return func(p *ParamSpec) {
		p.max = &max
	}
}

// Format rejects strings not matching pattern with invalid_format
func Format(pattern string) ParamOption {
	return func(p *ParamSpec) {
		p.pattern = pattern
	}
}

// NewParam builds a parameter spec. Unknown types, inverted ranges and
// invalid patterns are configuration errors.
func NewParam(name, typ string, opts ...ParamOption) (ParamSpec, error) {
	p := ParamSpec{Name: name}
	if name == "" {
		return p, fmt.Errorf("param name cannot be empty")
	}

	t, err := ResolveType(typ)
	if err != nil {
		return p, fmt.Errorf("param %s: %w", name, err)
	}
	p.Type = t

	for _, opt := range opts {
		opt(&p)
	}

	if p.clamp != nil {
		if p.Type != TypeNumber {
			return p, fmt.Errorf("param %s: clamp requires a number param", name)
		}
		if p.clamp[0] > p.clamp[1] {
			return p, fmt.Errorf("param %s: invalid clamp range [%v, %v]", name, p.clamp[0], p.clamp[1])
		}
	}

	if p.min != nil || p.max != nil {
		if p.Type != TypeNumber {
			return p, fmt.Errorf("param %s: min/max require a number param", name)
		}
		if p.min != nil && p.max != nil && *p.min > *p.max {
			return p, fmt.Errorf("param %s: invalid min-max range [%v, %v]", name, *p.min, *p.max)
		}
	}

	if p.pattern != "" {
		if p.Type != TypeString {
			return p, fmt.Errorf("param %s: format requires a string param", name)
		}
		re, err := regexp.Compile(p.pattern)
		if err != nil {
			return p, fmt.Errorf("param %s: invalid format: %w", name, err)
		}
		p.format = re
	}

	return p, nil
}

// MustParam is like NewParam but panics on configuration errors
func MustParam(name, typ string, opts ...ParamOption) ParamSpec {
	p, err := NewParam(name, typ, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Validate checks value against p. It returns the value to expose to
// the handler, whether the parameter is present after defaults, and an issue
// when validation fails.
func (p ParamSpec) Validate(value interface{}, present bool) (interface{}, bool, *contracts.Issue) {
	if !present || value == nil {
		if !p.hasDefault {
			if p.Required {
				return nil, false, p.issue(contracts.ErrMissingRequired, "is required")
			}
			return nil, false, nil
		}
		value = p.def
	}

	value, ok := p.coerce(value)
	if !ok {
		return nil, false, p.issue(contracts.ErrInvalidType, fmt.Sprintf("must be of type %s", p.Type))
	}

	if p.Type == TypeNumber {
		n := value.(float64)
		if p.clamp != nil {
			if n < p.clamp[0] {
				n = p.clamp[0]
			} else if n > p.clamp[1] {
				n = p.clamp[1]
			}
		}
		if p.min != nil && n < *p.min {
			return nil, false, p.issue(contracts.ErrOutOfRange, fmt.Sprintf("must be greater than or equal to %v", *p.min))
		}
		if p.max != nil && n > *p.max {
			return nil, false, p.issue(contracts.ErrOutOfRange, fmt.Sprintf("must be less than or equal to %v", *p.max))
		}
		value = n
	}

	if p.format != nil && !p.format.MatchString(value.(string)) {
		return nil, false, p.issue(contracts.ErrInvalidFormat, fmt.Sprintf("must match %s", p.pattern))
	}

	return value, true, nil
}

// coerce checks the dynamic type of value; numbers are normalized to float64
func (p ParamSpec) coerce(value interface{}) (interface{}, bool) {
	switch p.Type {
	case TypeString:
		s, ok := value.(string)
		return s, ok
	case TypeBoolean:
		b, ok := value.(bool)
		return b, ok
	case TypeNumber:
		return toFloat(value)
	case TypeObject:
		if m, ok := value.(map[string]interface{}); ok {
			return m, true
		}
		return value, reflect.ValueOf(value).Kind() == reflect.Map
	case TypeArray:
		if a, ok := value.([]interface{}); ok {
			return a, true
		}
		k := reflect.ValueOf(value).Kind()
		return value, k == reflect.Slice || k == reflect.Array
	}
	return nil, false
}

func toFloat(value interface{}) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func (p ParamSpec) issue(code, message string) *contracts.Issue {
	return &contracts.Issue{
		Type:    contracts.IssueParam,
		Name:    p.Name,
		Error:   code,
		Message: fmt.Sprintf("%s %s", p.Name, message),
	}
}
