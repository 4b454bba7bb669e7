// Package config provides the configuration loader for kiln.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

// supportedVersion is the kilnfile schema version this loader understands.
const supportedVersion = "1"

// Loader implements ports.ConfigLoader using a YAML file. Declared nodes get
// shell bodies built over the executor.
type Loader struct {
	Logger   ports.Logger
	Executor ports.Executor
}

// NewLoader creates a new Loader with the given logger and executor.
func NewLoader(logger ports.Logger, executor ports.Executor) *Loader {
	return &Loader{Logger: logger, Executor: executor}
}

// Load reads the kilnfile reachable from cwd, compiles it into a module tree,
// flattens traits and returns the validated node graph.
func (l *Loader) Load(cwd string) (*domain.Graph, error) {
	configPath, err := l.findConfiguration(cwd)
	if err != nil {
		return nil, err
	}

	var kilnfile Kilnfile
	if err := readAndUnmarshalYAML(configPath, &kilnfile); err != nil {
		return nil, err
	}

	if kilnfile.Version != "" && kilnfile.Version != supportedVersion {
		l.Logger.Warn(fmt.Sprintf("unsupported version %q in %s, expected %q", kilnfile.Version, domain.KilnFileName, supportedVersion))
	}

	root := resolveRoot(configPath, kilnfile.Root)

	traits, err := l.buildTraits(kilnfile.Traits, root)
	if err != nil {
		return nil, err
	}

	rootModule, err := l.buildModule("", &ModuleDTO{
		Nodes:   kilnfile.Nodes,
		Modules: kilnfile.Modules,
	}, root)
	if err != nil {
		return nil, err
	}

	nodes, err := rootModule.Flatten(traits)
	if err != nil {
		return nil, err
	}

	g := domain.NewGraph()
	g.SetRoot(root)
	for i := range nodes {
		if err := g.AddNode(&nodes[i]); err != nil {
			return nil, err
		}
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}

	return g, nil
}

// DiscoverRoot walks up from cwd to the directory holding the kilnfile and
// resolves the configured root override, if any.
func (l *Loader) DiscoverRoot(cwd string) (string, error) {
	configPath, err := l.findConfiguration(cwd)
	if err != nil {
		return "", err
	}

	var kilnfile Kilnfile
	if err := readAndUnmarshalYAML(configPath, &kilnfile); err != nil {
		return "", err
	}

	return resolveRoot(configPath, kilnfile.Root), nil
}

func (l *Loader) findConfiguration(cwd string) (string, error) {
	currentDir := cwd

	for {
		configPath := filepath.Join(currentDir, domain.KilnFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			// Reached root
			break
		}
		currentDir = parentDir
	}

	return "", zerr.With(domain.ErrConfigNotFound, "cwd", cwd)
}

func (l *Loader) buildTraits(dtos map[string]map[string]*NodeDTO, root string) (map[string]domain.Trait, error) {
	traits := make(map[string]domain.Trait, len(dtos))
	for traitName, nodeDTOs := range dtos {
		trait := domain.Trait{
			Name:  traitName,
			Nodes: make(map[string]domain.NodeSpec, len(nodeDTOs)),
		}
		for nodeName, dto := range nodeDTOs {
			spec, err := l.buildSpec(dto, root)
			if err != nil {
				return nil, zerr.With(zerr.With(err, "trait", traitName), "node", nodeName)
			}
			trait.Nodes[nodeName] = spec
		}
		traits[traitName] = trait
	}
	return traits, nil
}

func (l *Loader) buildModule(name string, dto *ModuleDTO, root string) (*domain.Module, error) {
	m := &domain.Module{
		Name:  name,
		Use:   dto.Use,
		Nodes: make(map[string]domain.NodeSpec, len(dto.Nodes)),
	}

	for nodeName, nodeDTO := range dto.Nodes {
		spec, err := l.buildSpec(nodeDTO, root)
		if err != nil {
			return nil, zerr.With(zerr.With(err, "node", nodeName), "module", name)
		}
		m.Nodes[nodeName] = spec
	}

	// Child order is deterministic so flattening yields stable identities.
	childNames := slices.Sorted(maps.Keys(dto.Modules))
	for _, childName := range childNames {
		child, err := l.buildModule(childName, dto.Modules[childName], root)
		if err != nil {
			return nil, err
		}
		m.Children = append(m.Children, child)
	}

	return m, nil
}

// buildSpec compiles a declared node into a NodeSpec with a shell body. The
// signature covers the command line and declared environment so editing
// either invalidates cached results.
func (l *Loader) buildSpec(dto *NodeDTO, root string) (domain.NodeSpec, error) {
	kind, err := parseKind(dto.Kind)
	if err != nil {
		return domain.NodeSpec{}, err
	}

	spec := domain.NodeSpec{
		Kind:         kind,
		Dependencies: dto.Deps,
		Inputs:       canonicalizeStrings(dto.Inputs),
		Sig:          commandSig(dto.Cmd, dto.Env),
	}

	argv := slices.Clone(dto.Cmd)
	env := maps.Clone(dto.Env)

	if kind == domain.KindWorker {
		if len(argv) == 0 {
			return domain.NodeSpec{}, domain.ErrMissingStart
		}
		spec.Start = l.buildStart(argv, env, root)
		return spec, nil
	}

	if len(argv) == 0 {
		return domain.NodeSpec{}, domain.ErrMissingBody
	}
	spec.Body = l.buildBody(argv, env, root)
	return spec, nil
}

// execResult is the JSON value produced by declared shell bodies.
type execResult struct {
	Dest string `json:"dest"`
}

func (l *Loader) buildBody(argv []string, env map[string]string, root string) domain.BodyFunc {
	return func(ctx context.Context, call *domain.BodyCall) (json.RawMessage, error) {
		err := l.Executor.Execute(ctx, ports.ExecSpec{
			Argv:   argv,
			Dir:    root,
			Env:    execEnv(env, call.Dest),
			Stdout: call.Stdout,
			Stderr: call.Stderr,
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(execResult{Dest: call.Dest})
	}
}

func (l *Loader) buildStart(argv []string, env map[string]string, root string) domain.StartFunc {
	return func(ctx context.Context, call *domain.BodyCall) (domain.WorkerHandle, error) {
		return l.Executor.StartWorker(ctx, ports.ExecSpec{
			Argv:   argv,
			Dir:    root,
			Env:    execEnv(env, call.Dest),
			Stdout: call.Stdout,
			Stderr: call.Stderr,
		})
	}
}

// execEnv merges the declared environment with the node's output directory.
func execEnv(declared map[string]string, dest string) map[string]string {
	env := make(map[string]string, len(declared)+1)
	maps.Copy(env, declared)
	env[domain.DestEnvVar] = dest
	return env
}

// parseKind maps a declared kind string to a NodeKind. An empty string
// defaults to target.
func parseKind(kind string) (domain.NodeKind, error) {
	switch kind {
	case "", "target":
		return domain.KindTarget, nil
	case "command":
		return domain.KindCommand, nil
	case "worker":
		return domain.KindWorker, nil
	default:
		return 0, zerr.With(domain.ErrInvalidNodeKind, "kind", kind)
	}
}

// commandSig hashes the command line and declared environment into a stable
// body identity. NUL separators keep adjacent fields from colliding.
func commandSig(argv []string, env map[string]string) string {
	h := xxhash.New()
	for _, arg := range argv {
		_, _ = h.WriteString(arg)
		_, _ = h.Write([]byte{0})
	}
	for _, key := range slices.Sorted(maps.Keys(env)) {
		_, _ = h.WriteString(key)
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(env[key])
		_, _ = h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// canonicalizeStrings sorts and deduplicates the given strings.
func canonicalizeStrings(strs []string) []string {
	if len(strs) == 0 {
		return nil
	}

	sorted := make([]string, len(strs))
	copy(sorted, strs)
	slices.Sort(sorted)

	return slices.Compact(sorted)
}

func resolveRoot(configPath, configuredRoot string) string {
	configDir := filepath.Dir(configPath)
	if configuredRoot == "" {
		return filepath.Clean(configDir)
	}
	if filepath.IsAbs(configuredRoot) {
		return filepath.Clean(configuredRoot)
	}
	return filepath.Clean(filepath.Join(configDir, configuredRoot))
}

// readAndUnmarshalYAML reads a YAML file and unmarshals it into the target struct.
func readAndUnmarshalYAML[T any](configPath string, target *T) error {
	// #nosec G304 -- configPath is validated by caller
	configFile, err := os.ReadFile(configPath)
	if err != nil {
		return zerr.Wrap(err, domain.ErrConfigReadFailed.Error())
	}

	if parseErr := yaml.Unmarshal(configFile, target); parseErr != nil {
		return zerr.Wrap(parseErr, domain.ErrConfigParseFailed.Error())
	}

	return nil
}
