package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/getmanbill/fusion360-mcp/pkg/client"
)

// Script is a YAML-described sequence of bridge calls, executed in order.
//
// A step can register its result under a name; later steps reference result
// fields with "$name.field" in any string parameter. This makes generated
// ids (sketch_id, entity_id) usable without manual copying:
//
//	steps:
//	  - method: fusion.create_sketch
//	    params: {name: base}
//	    register: sketch
//	  - method: fusion.create_circle
//	    params:
//	      sketch_id: $sketch.sketch_id
//	      center: {x: 0, y: 0}
//	      radius: 5
type Script struct {
	Steps []Step `yaml:"steps"`
}

type Step struct {
	Method   string         `yaml:"method"`
	Params   map[string]any `yaml:"params"`
	Register string         `yaml:"register"`
}

func runScript(ctx context.Context, c *client.Client, timeout time.Duration, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}

	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return fmt.Errorf("failed to parse script: %w", err)
	}
	if len(script.Steps) == 0 {
		return fmt.Errorf("script has no steps")
	}

	registers := make(map[string]map[string]any)

	for i, step := range script.Steps {
		if step.Method == "" {
			return fmt.Errorf("step %d: method is required", i+1)
		}

		params, err := resolveParams(step.Params, registers)
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Method, err)
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := c.Call(callCtx, step.Method, params)
		cancel()
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Method, err)
		}

		fmt.Printf("[%d/%d] %s\n", i+1, len(script.Steps), step.Method)
		if err := printJSON(result); err != nil {
			return err
		}

		if step.Register != "" {
			fields, ok := result.(map[string]any)
			if !ok {
				return fmt.Errorf("step %d (%s): result is not an object, cannot register", i+1, step.Method)
			}
			registers[step.Register] = fields
		}
	}

	return nil
}

// resolveParams substitutes "$name.field" references with values from
// registered step results. Maps and lists are walked recursively.
func resolveParams(params map[string]any, registers map[string]map[string]any) (map[string]any, error) {
	resolved, err := resolveValue(params, registers)
	if err != nil {
		return nil, err
	}
	if resolved == nil {
		return map[string]any{}, nil
	}
	return resolved.(map[string]any), nil
}

func resolveValue(v any, registers map[string]map[string]any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			r, err := resolveValue(inner, registers)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil

	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			r, err := resolveValue(inner, registers)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil

	case string:
		if !strings.HasPrefix(val, "$") {
			return val, nil
		}
		name, field, ok := strings.Cut(val[1:], ".")
		if !ok {
			return nil, fmt.Errorf("invalid reference %q (expected $name.field)", val)
		}
		fields, ok := registers[name]
		if !ok {
			return nil, fmt.Errorf("reference %q: no step registered as %q", val, name)
		}
		resolved, ok := fields[field]
		if !ok {
			return nil, fmt.Errorf("reference %q: field %q not in registered result", val, field)
		}
		return resolved, nil

	default:
		return v, nil
	}
}
