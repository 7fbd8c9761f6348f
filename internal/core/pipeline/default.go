package pipeline

import _ "embed"

//go:embed default.yaml
var defaultText string

// DefaultText returns the embedded pass-through pipeline definition,
// usable when no pipeline file is supplied.
func DefaultText() string {
	return defaultText
}

// Default parses the embedded pipeline definition.
func Default() (*Pipeline, error) {
	return Parse(defaultText)
}
