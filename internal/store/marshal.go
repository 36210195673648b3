package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/strata/internal/value"
)

// marshalFields converts record fields to canonical JSON TEXT for
// storage. Canonical form keeps stored bytes stable across writers.
func marshalFields(fields value.Object) (string, error) {
	if fields == nil {
		fields = value.Object{}
	}
	data, err := value.Canonical(fields)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}

// unmarshalFields parses stored JSON TEXT back into fields. Integers are
// decoded exactly, without a float64 detour.
func unmarshalFields(data string) (value.Object, error) {
	if data == "" || data == "{}" {
		return value.Object{}, nil
	}
	var obj value.Object
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return obj, nil
}
