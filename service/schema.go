package service

import (
	"fmt"
	"strings"

	"github.com/tetherhq/tether/models"
	"github.com/tetherhq/tether/supervisor"
	"github.com/xeipuuv/gojsonschema"
)

// NewPayloadValidator compiles a JSON schema and returns a validator
// for handshake payloads. A payload that does not satisfy the schema
// turns the handshake into a boot failure.
func NewPayloadValidator(source string) (supervisor.ValidateFunc, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		return nil, fmt.Errorf("compiling payload schema: %w", err)
	}

	return func(info models.ConnInfo) error {
		result, err := schema.Validate(gojsonschema.NewGoLoader(map[string]any(info)))
		if err != nil {
			return err
		}

		if result.Valid() {
			return nil
		}

		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return fmt.Errorf("payload schema violation: %s", strings.Join(problems, "; "))
	}, nil
}
