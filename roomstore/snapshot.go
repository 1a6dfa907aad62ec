/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package roomstore

import (
	"fmt"
	"sort"

	"github.com/go-viper/mapstructure/v2"
)

// Snapshot is an immutable copy of the value stored at Path.
type Snapshot struct {
	Path   string
	Value  any
	Exists bool
}

// Decode copies the snapshot into out, matching fields by their json tags.
func (s Snapshot) Decode(out any) error {
	if !s.Exists {
		return nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}

	if err := dec.Decode(s.Value); err != nil {
		return fmt.Errorf("decode %s: %w", s.Path, err)
	}

	return nil
}

// Child returns the snapshot of a direct child of this node.
func (s Snapshot) Child(name string) Snapshot {
	path := name
	if s.Path != "" {
		path = s.Path + "/" + name
	}

	m, ok := s.Value.(map[string]any)
	if !ok {
		return Snapshot{Path: path}
	}

	v, ok := m[name]
	return Snapshot{Path: path, Value: v, Exists: ok}
}

// Keys lists the child names of this node in sorted order.
func (s Snapshot) Keys() []string {
	m, ok := s.Value.(map[string]any)
	if !ok {
		return nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
