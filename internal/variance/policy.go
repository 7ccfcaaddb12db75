package variance

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/costwatch/internal/model"
)

// ThresholdPolicy supplies organization-wide per-category threshold defaults
// from a standalone YAML file. Project category overrides still win.
type ThresholdPolicy struct {
	Categories map[string]model.VarianceThresholds `yaml:"categories"`
}

// LoadThresholdPolicy reads a threshold policy from a YAML file.
func LoadThresholdPolicy(path string) (*ThresholdPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "variance: read policy %s", path)
	}
	var p ThresholdPolicy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrapf(err, "variance: parse policy %s", path)
	}
	return &p, nil
}
