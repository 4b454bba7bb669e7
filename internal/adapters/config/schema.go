package config

// Kilnfile represents the structure of the kiln.yaml configuration file.
type Kilnfile struct {
	Version string                         `yaml:"version"`
	Root    string                         `yaml:"root"`
	Traits  map[string]map[string]*NodeDTO `yaml:"traits"`
	Nodes   map[string]*NodeDTO            `yaml:"nodes"`
	Modules map[string]*ModuleDTO          `yaml:"modules"`
}

// ModuleDTO represents a module definition in the configuration. Traits
// listed in Use are installed first; the module's own nodes override trait
// nodes of the same name.
type ModuleDTO struct {
	Use     []string              `yaml:"use"`
	Nodes   map[string]*NodeDTO   `yaml:"nodes"`
	Modules map[string]*ModuleDTO `yaml:"modules"`
}

// NodeDTO represents a node definition in the configuration. An empty kind
// defaults to target.
type NodeDTO struct {
	Kind   string            `yaml:"kind"`
	Cmd    []string          `yaml:"cmd"`
	Inputs []string          `yaml:"inputs"`
	Deps   []string          `yaml:"deps"`
	Env    map[string]string `yaml:"env"`
}
