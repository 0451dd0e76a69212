package event

import (
	"encoding/json"
	"fmt"
)

// Upgrader migrates a JSON payload from one schema version to the next
type Upgrader interface {
	SourceVersion() int
	TargetVersion() int
	Upgrade(payload []byte) ([]byte, error)
}

// FieldUpgrader upgrades a payload by transforming its decoded JSON object
type FieldUpgrader struct {
	source    int
	transform func(data map[string]any) (map[string]any, error)
}

// NewFieldUpgrader creates an upgrader from source to source+1
func NewFieldUpgrader(source int, transform func(data map[string]any) (map[string]any, error)) *FieldUpgrader {
	return &FieldUpgrader{source: source, transform: transform}
}

// SourceVersion implements Upgrader
func (u *FieldUpgrader) SourceVersion() int { return u.source }

// TargetVersion implements Upgrader
func (u *FieldUpgrader) TargetVersion() int { return u.source + 1 }

// Upgrade implements Upgrader
func (u *FieldUpgrader) Upgrade(payload []byte) ([]byte, error) {
	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	if data == nil {
		data = make(map[string]any)
	}
	out, err := u.transform(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// CommonUpgraders builds upgraders for the usual schema changes
type CommonUpgraders struct{}

// AddField sets a field to defaultValue when it is missing
func (CommonUpgraders) AddField(source int, field string, defaultValue any) *FieldUpgrader {
	return NewFieldUpgrader(source, func(data map[string]any) (map[string]any, error) {
		if _, ok := data[field]; !ok {
			data[field] = defaultValue
		}
		return data, nil
	})
}

// RemoveField drops a field
func (CommonUpgraders) RemoveField(source int, field string) *FieldUpgrader {
	return NewFieldUpgrader(source, func(data map[string]any) (map[string]any, error) {
		delete(data, field)
		return data, nil
	})
}

// RenameField moves a field to a new name
func (CommonUpgraders) RenameField(source int, from, to string) *FieldUpgrader {
	return NewFieldUpgrader(source, func(data map[string]any) (map[string]any, error) {
		if v, ok := data[from]; ok {
			data[to] = v
			delete(data, from)
		}
		return data, nil
	})
}

// ConvertField replaces a field with the converted value
func (CommonUpgraders) ConvertField(source int, field string, convert func(any) (any, error)) *FieldUpgrader {
	return NewFieldUpgrader(source, func(data map[string]any) (map[string]any, error) {
		v, ok := data[field]
		if !ok {
			return data, nil
		}
		converted, err := convert(v)
		if err != nil {
			return nil, fmt.Errorf("convert field %s: %w", field, err)
		}
		data[field] = converted
		return data, nil
	})
}

// Chain combines upgraders applied in order as a single step from source to source+1.
// Every step must be built with the same source version.
func (CommonUpgraders) Chain(source int, steps ...*FieldUpgrader) *FieldUpgrader {
	return NewFieldUpgrader(source, func(data map[string]any) (map[string]any, error) {
		var err error
		for _, step := range steps {
			data, err = step.transform(data)
			if err != nil {
				return nil, err
			}
		}
		return data, nil
	})
}

var _ Upgrader = (*FieldUpgrader)(nil)
