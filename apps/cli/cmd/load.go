package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/abdul-hamid-achik/chainspec/packages/core/config"
	"github.com/abdul-hamid-achik/chainspec/packages/core/loader"
	"github.com/abdul-hamid-achik/chainspec/packages/core/model"
)

// resolveFiles expands the command arguments into scenario files:
// directories are searched with the discovery pattern, files pass through.
func resolveFiles(args []string, cfg *config.Config) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}
		if info.IsDir() {
			found, err := loader.Discover(arg, cfg.Suffix)
			if err != nil {
				return nil, err
			}
			files = append(files, found...)
			continue
		}
		files = append(files, arg)
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no scenario files found (pattern test_<name>.%s.json)", cfg.Suffix)
	}
	return files, nil
}

// loadScenarioFile resolves references and decodes one scenario.
func loadScenarioFile(path string, cfg *config.Config) (*model.Scenario, error) {
	l := loader.New()
	l.MaxParentTraversalDepth = cfg.RefParentTraversalDepth
	l.RootPath = cfg.RootPath

	tree, err := l.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return model.DecodeScenario(tree, path)
}

// parseFixtureFlags turns repeated --fixture name=value flags into a map.
func parseFixtureFlags(flags []string) (map[string]any, error) {
	out := make(map[string]any, len(flags))
	for _, f := range flags {
		name, value, found := strings.Cut(f, "=")
		if !found || name == "" {
			return nil, fmt.Errorf("invalid fixture %q, expected name=value", f)
		}
		out[name] = value
	}
	return out, nil
}
