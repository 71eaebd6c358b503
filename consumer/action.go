package consumer

import (
	"github.com/glimte/fleck-go/contracts"
)

// HandlerFunc executes an action. Returning the *Halt produced by a status
// helper stops execution with the prepared response; any other error is
// logged and answered with 500.
type HandlerFunc func(c *Context) error

// Action is a registered action: a handler plus its declared parameters
type Action struct {
	Name        string
	Description string
	Handler     HandlerFunc
	Params      []ParamSpec
}

// ActionOption configures an action at registration
type ActionOption func(*actionBuilder)

type actionBuilder struct {
	action *Action
	errs   []error
}

// Describe sets the action description
func Describe(description string) ActionOption {
	return func(b *actionBuilder) {
		b.action.Description = description
	}
}

// Param declares a parameter validated before the handler runs. Parameters
// are validated in declaration order.
func Param(name, typ string, opts ...ParamOption) ActionOption {
	return func(b *actionBuilder) {
		spec, err := NewParam(name, typ, opts...)
		if err != nil {
			b.errs = append(b.errs, err)
			return
		}
		b.action.Params = append(b.action.Params, spec)
	}
}

// WithParams declares prebuilt parameter specs
func WithParams(specs ...ParamSpec) ActionOption {
	return func(b *actionBuilder) {
		b.action.Params = append(b.action.Params, specs...)
	}
}

// validate checks params in declaration order. Valid values replace the raw
// ones; absent optional params are left out.
func (a *Action) validate(params map[string]interface{}) (map[string]interface{}, []contracts.Issue) {
	if len(a.Params) == 0 {
		return params, nil
	}

	var issues []contracts.Issue
	for _, spec := range a.Params {
		raw, present := params[spec.Name]
		value, ok, issue := spec.Validate(raw, present)
		if issue != nil {
			issues = append(issues, *issue)
			continue
		}
		if ok {
			params[spec.Name] = value
		}
	}

	return params, issues
}
