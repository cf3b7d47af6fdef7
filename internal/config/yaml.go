package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toJSON turns a YAML or JSON config into JSON for the strict decoder.
// Files ending in .json, or starting with '{', are taken as JSON. String
// values may reference the environment as ${NAME}, which keeps secrets
// such as bot tokens out of the file.
func toJSON(path string, data []byte) ([]byte, error) {
	var v any
	if strings.EqualFold(filepath.Ext(path), ".json") || bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, nil
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := dec.Decode(&struct{}{}); err != io.EOF {
			return nil, fmt.Errorf("%s: invalid config: trailing data", path)
		}
	} else if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%s: yaml: %w", path, err)
	}
	if v == nil {
		return nil, nil
	}
	j, err := json.Marshal(expandTree(v))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return j, nil
}

var reEnvRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandTree stringifies map keys (YAML allows any scalar) and expands
// ${NAME} in string values. Unset variables expand to "".
func expandTree(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = expandTree(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = expandTree(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = expandTree(x[i])
		}
		return x
	case string:
		if !strings.Contains(x, "${") {
			return x
		}
		return reEnvRef.ReplaceAllStringFunc(x, func(ref string) string {
			return os.Getenv(ref[2 : len(ref)-1])
		})
	default:
		return in
	}
}
