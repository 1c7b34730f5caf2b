package template

import (
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v2"
)

// Render parses varsYAML into a variable map and executes templateText
// against it. Rendering failures are returned to the caller; rendered text
// is the only thing that ever reaches a device.
func Render(templateText, varsYAML string) (string, error) {
	if templateText == "" {
		return "", fmt.Errorf("template content is required")
	}
	if varsYAML == "" {
		return "", fmt.Errorf("variables content is required")
	}

	vars := map[string]interface{}{}
	if err := yaml.Unmarshal([]byte(varsYAML), &vars); err != nil {
		return "", fmt.Errorf("parsing variables YAML: %w", err)
	}
	if len(vars) == 0 {
		return "", fmt.Errorf("variables content is empty or invalid")
	}

	tpl, err := template.New("config").Option("missingkey=error").Parse(templateText)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}
	var b strings.Builder
	if err := tpl.Execute(&b, normalize(vars)); err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}
	return b.String(), nil
}

// normalize converts yaml.v2's map[interface{}]interface{} values into
// map[string]interface{} so text/template can index them.
func normalize(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(vv))
		for k, val := range vv {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(vv))
		for k, val := range vv {
			out[k] = normalize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, val := range vv {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
