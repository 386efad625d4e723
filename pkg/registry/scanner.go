package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apcore/apcore-go/pkg/apcore"
)

const descriptorSuffix = ".module.yaml"

var skipDirNames = map[string]bool{
	"node_modules": true,
	".git":         true,
}

// scanExtensions recursively walks root for `*.module.yaml` descriptor
// files (§4.4.1's replacement for scanning `.py` source files), deriving
// each file's canonical module ID from its path relative to root.
func scanExtensions(root string, maxDepth int) ([]DiscoveredModule, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, apcore.NewConfigError(fmt.Sprintf("resolving extensions root %s: %v", root, err), nil)
	}
	if _, err := os.Stat(absRoot); err != nil {
		return nil, apcore.NewConfigNotFoundError(absRoot)
	}

	var results []DiscoveredModule
	seenIDs := map[string]string{}

	var walk func(dir string, depth int) error
	walk = func(dir string, depth int) error {
		if depth > maxDepth {
			return nil
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, entry := range entries {
			name := entry.Name()
			if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
				continue
			}
			full := filepath.Join(dir, name)

			if entry.IsDir() {
				if skipDirNames[name] {
					continue
				}
				if err := walk(full, depth+1); err != nil {
					return err
				}
				continue
			}

			if !strings.HasSuffix(name, descriptorSuffix) {
				continue
			}

			rel, err := filepath.Rel(absRoot, full)
			if err != nil {
				continue
			}
			stem := strings.TrimSuffix(rel, descriptorSuffix)
			canonicalID := strings.ReplaceAll(stem, string(filepath.Separator), ".")

			if existing, dup := seenIDs[canonicalID]; dup {
				return apcore.NewModuleLoadError(
					fmt.Sprintf("duplicate module ID %q", canonicalID),
					map[string]any{"first_path": existing, "second_path": full})
			}
			seenIDs[canonicalID] = full

			results = append(results, DiscoveredModule{FilePath: full, CanonicalID: canonicalID})
		}
		return nil
	}

	if err := walk(absRoot, 1); err != nil {
		return nil, err
	}
	return results, nil
}

// scanMultiRoot scans several extension roots, prefixing each root's
// discovered module IDs with its namespace.
func scanMultiRoot(roots []ExtensionRoot, maxDepth int) ([]DiscoveredModule, error) {
	seenNamespaces := map[string]bool{}
	var all []DiscoveredModule

	for _, r := range roots {
		namespace := r.Namespace
		if namespace == "" {
			namespace = filepath.Base(r.Root)
		}
		if seenNamespaces[namespace] {
			return nil, apcore.NewConfigError(fmt.Sprintf("duplicate namespace: %q", namespace), nil)
		}
		seenNamespaces[namespace] = true

		discovered, err := scanExtensions(r.Root, maxDepth)
		if err != nil {
			return nil, err
		}
		for _, dm := range discovered {
			all = append(all, DiscoveredModule{
				FilePath:    dm.FilePath,
				CanonicalID: namespace + "." + dm.CanonicalID,
				Namespace:   namespace,
			})
		}
	}
	return all, nil
}
