package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bknd-io/bknd/diff"
	"github.com/bknd-io/bknd/errors"
)

// Extraction is the result of pulling secret values out of a configuration
// tree. Tree is a redacted clone safe to persist; Secrets maps dotted paths
// relative to the tree root to the extracted values.
type Extraction struct {
	Tree    any
	Secrets map[string]string
}

// ExtractSecrets walks a configuration tree with its schema and removes
// every non-empty value held by a secret-typed string property. The input
// tree is never mutated; the returned tree is a clone with extracted
// values blanked to "".
func ExtractSecrets(tree any, s Schema) Extraction {
	clone := diff.Clone(tree)
	out := Extraction{Tree: clone, Secrets: make(map[string]string)}
	extractInto("", clone, s.Properties, out.Secrets)
	return out
}

func extractInto(prefix string, node any, props map[string]Property, secrets map[string]string) {
	m, ok := node.(map[string]any)
	if !ok {
		return
	}
	for name, prop := range props {
		val, present := m[name]
		if !present {
			continue
		}
		path := joinPath(prefix, name)
		switch {
		case prop.Secret && prop.Type == "string":
			if s, ok := val.(string); ok && s != "" {
				secrets[path] = s
				m[name] = ""
			}
		case prop.Type == "object" && len(prop.Properties) > 0:
			extractInto(path, val, prop.Properties, secrets)
		case prop.Type == "array" && prop.Items != nil:
			arr, ok := val.([]any)
			if !ok {
				continue
			}
			for i, elem := range arr {
				elemPath := joinPath(path, strconv.Itoa(i))
				if prop.Items.Secret && prop.Items.Type == "string" {
					if s, ok := elem.(string); ok && s != "" {
						secrets[elemPath] = s
						arr[i] = ""
					}
					continue
				}
				if prop.Items.Type == "object" && len(prop.Items.Properties) > 0 {
					extractInto(elemPath, elem, prop.Items.Properties, secrets)
				}
			}
		}
	}
}

// ReinjectSecrets writes extracted secret values back into a redacted
// configuration tree. The input is never mutated; a clone with the secrets
// restored is returned. A path that no longer resolves inside the tree is
// an error: it means the tree and the secrets map diverged.
func ReinjectSecrets(tree any, secrets map[string]string) (any, error) {
	clone := diff.Clone(tree)
	for path, value := range secrets {
		if err := setAtPath(clone, path, value); err != nil {
			return nil, fmt.Errorf("reinject %q: %w", path, err)
		}
	}
	return clone, nil
}

func setAtPath(node any, path string, value string) error {
	segments := strings.Split(path, ".")
	for i, seg := range segments {
		last := i == len(segments)-1
		switch container := node.(type) {
		case map[string]any:
			if last {
				container[seg] = value
				return nil
			}
			next, ok := container[seg]
			if !ok {
				return fmt.Errorf("%w: missing key %q", errors.ErrInvalidConfig, seg)
			}
			node = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(container) {
				return fmt.Errorf("%w: bad index %q", errors.ErrInvalidConfig, seg)
			}
			if last {
				container[idx] = value
				return nil
			}
			node = container[idx]
		default:
			return fmt.Errorf("%w: segment %q is not a container", errors.ErrInvalidConfig, seg)
		}
	}
	return nil
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
