package plugins

import (
	"fmt"
	"slices"
	"sort"
)

// FilterKind is the shape of a backend filter.
type FilterKind string

const (
	// FilterAll matches everything.
	FilterAll FilterKind = "all"
	// FilterEvents matches when the kind is listed.
	FilterEvents FilterKind = "events"
	// FilterEventsState matches when the kind maps to true.
	FilterEventsState FilterKind = "eventsState"
	// FilterEventsPlugins matches when the plugin is listed under the kind.
	FilterEventsPlugins FilterKind = "eventsPlugins"
	// FilterEventsDetailed matches when the kind is enabled and the plugin is listed under it.
	FilterEventsDetailed FilterKind = "eventsDetailed"
)

// DetailedRule is one entry of an eventsDetailed filter.
type DetailedRule struct {
	Enabled bool
	Plugins []string
}

// Filter decides which (kind, plugin) pairs a backend services. The kind is an
// event kind for events backends and a level name for logging backends.
// A nil *Filter matches everything.
type Filter struct {
	Kind     FilterKind
	Kinds    []string
	State    map[string]bool
	Plugins  map[string][]string
	Detailed map[string]DetailedRule
}

// AllFilter returns a filter of kind all.
func AllFilter() *Filter { return &Filter{Kind: FilterAll} }

// Matches reports whether the filter accepts kind for plugin.
func (f *Filter) Matches(kind, plugin string) bool {
	if f == nil {
		return true
	}
	switch f.Kind {
	case FilterAll:
		return true
	case FilterEvents:
		return slices.Contains(f.Kinds, kind)
	case FilterEventsState:
		return f.State[kind]
	case FilterEventsPlugins:
		return slices.Contains(f.Plugins[kind], plugin)
	case FilterEventsDetailed:
		rule, ok := f.Detailed[kind]
		return ok && rule.Enabled && slices.Contains(rule.Plugins, plugin)
	}
	return false
}

// EffectiveKind returns the filter kind, treating a nil filter as all.
func (f *Filter) EffectiveKind() FilterKind {
	if f == nil {
		return FilterAll
	}
	return f.Kind
}

// ParseFilter converts a decoded configuration value into a Filter.
//
// Accepted shapes:
//   - nil: nil filter (matches everything)
//   - "all": FilterAll
//   - list of strings: FilterEvents
//   - map of bool: FilterEventsState
//   - map of string lists: FilterEventsPlugins
//   - map of {enabled, plugins}: FilterEventsDetailed
//
// When known is non-empty every kind named in the filter must be one of known.
func ParseFilter(raw any, known []string) (*Filter, error) {
	f, err := parseFilter(raw)
	if err != nil || f == nil {
		return f, err
	}
	if len(known) > 0 {
		for _, k := range f.names() {
			if !slices.Contains(known, k) {
				return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidFilter, k)
			}
		}
	}
	return f, nil
}

func parseFilter(raw any) (*Filter, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case *Filter:
		return v, nil
	case Filter:
		return &v, nil
	case string:
		if v == string(FilterAll) {
			return AllFilter(), nil
		}
		return nil, fmt.Errorf("%w: %q", ErrInvalidFilter, v)
	case []string:
		return &Filter{Kind: FilterEvents, Kinds: slices.Clone(v)}, nil
	case []any:
		kinds, err := stringList(v)
		if err != nil {
			return nil, err
		}
		return &Filter{Kind: FilterEvents, Kinds: kinds}, nil
	case map[string]bool:
		state := make(map[string]bool, len(v))
		for k, b := range v {
			state[k] = b
		}
		return &Filter{Kind: FilterEventsState, State: state}, nil
	case map[string][]string:
		pl := make(map[string][]string, len(v))
		for k, l := range v {
			pl[k] = slices.Clone(l)
		}
		return &Filter{Kind: FilterEventsPlugins, Plugins: pl}, nil
	case map[string]DetailedRule:
		d := make(map[string]DetailedRule, len(v))
		for k, r := range v {
			d[k] = r
		}
		return &Filter{Kind: FilterEventsDetailed, Detailed: d}, nil
	case map[string]any:
		return parseFilterMap(v)
	}
	return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidFilter, raw)
}

func parseFilterMap(m map[string]any) (*Filter, error) {
	if len(m) == 0 {
		return nil, fmt.Errorf("%w: empty map", ErrInvalidFilter)
	}
	var f *Filter
	setKind := func(k FilterKind) error {
		if f == nil {
			f = &Filter{Kind: k}
			return nil
		}
		if f.Kind != k {
			return fmt.Errorf("%w: mixed %s and %s entries", ErrInvalidFilter, f.Kind, k)
		}
		return nil
	}
	for _, key := range sortedKeys(m) {
		switch v := m[key].(type) {
		case bool:
			if err := setKind(FilterEventsState); err != nil {
				return nil, err
			}
			if f.State == nil {
				f.State = map[string]bool{}
			}
			f.State[key] = v
		case []any, []string:
			if err := setKind(FilterEventsPlugins); err != nil {
				return nil, err
			}
			list, err := anyStrings(v)
			if err != nil {
				return nil, err
			}
			if f.Plugins == nil {
				f.Plugins = map[string][]string{}
			}
			f.Plugins[key] = list
		case map[string]any:
			if err := setKind(FilterEventsDetailed); err != nil {
				return nil, err
			}
			rule, err := parseDetailed(key, v)
			if err != nil {
				return nil, err
			}
			if f.Detailed == nil {
				f.Detailed = map[string]DetailedRule{}
			}
			f.Detailed[key] = rule
		default:
			return nil, fmt.Errorf("%w: entry %q has unsupported type %T", ErrInvalidFilter, key, v)
		}
	}
	return f, nil
}

func parseDetailed(key string, m map[string]any) (DetailedRule, error) {
	var rule DetailedRule
	for k, v := range m {
		switch k {
		case "enabled":
			b, ok := v.(bool)
			if !ok {
				return rule, fmt.Errorf("%w: %s.enabled must be a bool", ErrInvalidFilter, key)
			}
			rule.Enabled = b
		case "plugins":
			list, err := anyStrings(v)
			if err != nil {
				return rule, err
			}
			rule.Plugins = list
		default:
			return rule, fmt.Errorf("%w: %s has unknown field %q", ErrInvalidFilter, key, k)
		}
	}
	return rule, nil
}

func anyStrings(v any) ([]string, error) {
	switch l := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return slices.Clone(l), nil
	case []any:
		return stringList(l)
	}
	return nil, fmt.Errorf("%w: expected a list, got %T", ErrInvalidFilter, v)
}

func stringList(in []any) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, e := range in {
		s, ok := e.(string)
		if !ok {
			return nil, fmt.Errorf("%w: list entry %v is not a string", ErrInvalidFilter, e)
		}
		out = append(out, s)
	}
	return out, nil
}

// names returns every kind the filter mentions.
func (f *Filter) names() []string {
	switch f.Kind {
	case FilterEvents:
		return f.Kinds
	case FilterEventsState:
		return sortedKeys(f.State)
	case FilterEventsPlugins:
		return sortedKeys(f.Plugins)
	case FilterEventsDetailed:
		return sortedKeys(f.Detailed)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
