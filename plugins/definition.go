package plugins

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Definition is one plugin entry of a deployment profile.
type Definition struct {
	// Name is the key the plugin is mapped under in the profile. It is the
	// plugin name seen by the rest of the system and may differ from Plugin.
	Name    string         `json:"-" yaml:"-"`
	Package string         `json:"package,omitempty" yaml:"package,omitempty"`
	Plugin  string         `json:"plugin" yaml:"plugin"`
	Version string         `json:"version,omitempty" yaml:"version,omitempty"`
	Enabled bool           `json:"enabled" yaml:"enabled"`
	Filter  any            `json:"filter,omitempty" yaml:"filter,omitempty"`
	Config  map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// PluginName returns the registry name to construct: Plugin, or Name when
// Plugin is empty.
func (d Definition) PluginName() string {
	if d.Plugin != "" {
		return d.Plugin
	}
	return d.Name
}

// Validator is implemented by plugin config structs that check themselves
// after decoding.
type Validator interface {
	Validate() error
}

// DecodeConfig decodes a raw configuration value into out, which must be a
// pointer to the plugin's config struct, and runs Validate when out
// implements Validator. A nil raw value leaves out untouched but still
// validates it, so zero-value defaults are checked too.
func DecodeConfig(raw any, out any) error {
	if raw != nil {
		data, err := yaml.Marshal(raw)
		if err != nil {
			return fmt.Errorf("%w: encode: %v", ErrInvalidPluginConfig, err)
		}
		if err := yaml.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: decode: %v", ErrInvalidPluginConfig, err)
		}
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPluginConfig, err)
		}
	}
	return nil
}
