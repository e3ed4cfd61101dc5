package protocol

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/jivan-ai/nexus/pkg/domain"
)

// LoadDir reads protocol definitions from every .yaml, .yml, and .json file
// in dir, in sorted filename order. A malformed file is logged and skipped;
// it never aborts the load. A missing dir yields an empty set.
func LoadDir(dir string, logger *slog.Logger) []Protocol {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var protocols []Protocol
	for _, name := range names {
		path := filepath.Join(dir, name)
		loaded, err := loadFile(path)
		if err != nil {
			if logger != nil {
				logger.Warn("protocol file skipped", "path", path, "err", err)
			}
			continue
		}
		protocols = append(protocols, loaded...)
	}
	return protocols
}

func loadFile(path string) ([]Protocol, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var specs []domain.ProtocolSpec
	if strings.EqualFold(filepath.Ext(path), ".json") {
		specs, err = decodeMulti(raw, func(b []byte, v any) error { return json.Unmarshal(b, v) })
	} else {
		specs, err = decodeMulti(raw, func(b []byte, v any) error { return yaml.Unmarshal(b, v) })
	}
	if err != nil {
		return nil, err
	}

	var protocols []Protocol
	for _, spec := range specs {
		spec = spec.Normalize()
		if !validName(spec.Name) {
			return nil, fmt.Errorf("invalid or missing protocol name in %s", filepath.Base(path))
		}
		spec.Name = strings.ToLower(strings.TrimSpace(spec.Name))
		if spec.Description == "" {
			spec.Description = "Custom protocol loaded from " + filepath.Base(path)
		}
		spec.Source = path
		protocols = append(protocols, newFileProtocol(spec))
	}
	return protocols, nil
}

// decodeMulti accepts either one definition or a list at the top level.
// Documents are parsed loosely first, then mapped onto the spec struct, so
// YAML and JSON files share one field vocabulary and scalar types are
// coerced leniently ("cooldown_s: \"5\"" still loads).
func decodeMulti(raw []byte, unmarshal func([]byte, any) error) ([]domain.ProtocolSpec, error) {
	var top any
	if err := unmarshal(raw, &top); err != nil {
		return nil, err
	}

	docs, ok := top.([]any)
	if !ok {
		docs = []any{top}
	}

	specs := make([]domain.ProtocolSpec, 0, len(docs))
	for _, doc := range docs {
		var spec domain.ProtocolSpec
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &spec,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(doc); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func validName(name string) bool {
	t := strings.TrimSpace(name)
	if t == "" {
		return false
	}
	return !strings.ContainsAny(t, `/\:*?"<>|`)
}

// newFileProtocol wraps a loaded spec with placeholder rendering: {{key}}
// tokens in step text, names, and string args are replaced from the run's
// arguments, with {{user_text}} always available.
func newFileProtocol(spec domain.ProtocolSpec) Protocol {
	return Protocol{
		Spec: spec,
		BuildSteps: func(args map[string]any, userText string) []domain.Step {
			values := make(map[string]any, len(args)+1)
			for k, v := range args {
				values[k] = v
			}
			if _, ok := values["user_text"]; !ok {
				values["user_text"] = userText
			}

			rendered := make([]domain.Step, 0, len(spec.Steps))
			for _, step := range spec.Steps {
				item := step
				item.Text = renderTemplate(step.Text, values)
				item.Name = renderTemplate(step.Name, values)
				if step.Args != nil {
					nested := make(map[string]any, len(step.Args))
					for k, v := range step.Args {
						if s, ok := v.(string); ok {
							nested[k] = renderTemplate(s, values)
						} else {
							nested[k] = v
						}
					}
					item.Args = nested
				}
				rendered = append(rendered, item)
			}
			return rendered
		},
	}
}

func renderTemplate(text string, values map[string]any) string {
	for k, v := range values {
		text = strings.ReplaceAll(text, "{{"+k+"}}", fmt.Sprintf("%v", v))
	}
	return text
}
