// internal/validate/builder.go
package validate

import (
	"fmt"

	cfg "github.com/tamzrod/inverter-probe/internal/config"
	"github.com/tamzrod/inverter-probe/internal/register"
)

// BuildErrorFlag resolves the error flag register. nil config => nil flag.
func BuildErrorFlag(c *cfg.ErrorFlagConfig, cat *register.Catalogue) (*ErrorFlag, error) {
	if c == nil {
		return nil, nil
	}
	spec, ok := cat.Lookup(c.Register)
	if !ok {
		return nil, fmt.Errorf("validate: unknown error flag register %q", c.Register)
	}
	return &ErrorFlag{Spec: spec, Mask: c.Mask}, nil
}
