package registry

import (
	"fmt"
	"os"

	"github.com/apcore/apcore-go/pkg/apcore"
	"gopkg.in/yaml.v3"
)

// descriptorFile is the on-disk shape of one `*.module.yaml` file: the
// static-target replacement for a dynamically-imported Python extension
// file plus its `*_meta.yaml` companion, merged into a single document.
type descriptorFile struct {
	ModuleID      string           `yaml:"module_id,omitempty"`
	Factory       string           `yaml:"factory"`
	Name          string           `yaml:"name,omitempty"`
	Description   string           `yaml:"description"`
	Documentation string           `yaml:"documentation,omitempty"`
	Version       string           `yaml:"version,omitempty"`
	Tags          []string         `yaml:"tags,omitempty"`
	Dependencies  []DependencyInfo `yaml:"dependencies,omitempty"`
	Metadata      map[string]any   `yaml:"metadata,omitempty"`
	Annotations   map[string]any   `yaml:"annotations,omitempty"`
	Examples      []any            `yaml:"examples,omitempty"`
	InputSchema   map[string]any   `yaml:"input_schema,omitempty"`
	OutputSchema  map[string]any   `yaml:"output_schema,omitempty"`
}

func loadDescriptorFile(path string) (*descriptorFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apcore.NewConfigNotFoundError(path)
		}
		return nil, apcore.NewConfigError(fmt.Sprintf("reading descriptor %s: %v", path, err), nil)
	}

	var parsed descriptorFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, apcore.NewConfigError(fmt.Sprintf("invalid YAML in descriptor %s: %v", path, err), nil)
	}
	return &parsed, nil
}

// mergeModuleMetadata merges code-level ModuleInfo defaults under
// descriptor-file fields; descriptor fields win on every conflict,
// mirroring merge_module_metadata's "YAML wins" rule.
func mergeModuleMetadata(info ModuleInfo, file *descriptorFile) ModuleDescriptor {
	description := file.Description
	if description == "" {
		description = info.Description
	}
	name := file.Name
	if name == "" {
		name = info.Name
	}
	documentation := file.Documentation
	if documentation == "" {
		documentation = info.Documentation
	}
	version := file.Version
	if version == "" {
		version = info.Version
	}
	if version == "" {
		version = "1.0.0"
	}

	tags := file.Tags
	if tags == nil {
		tags = info.Tags
	}

	annotations := file.Annotations
	if annotations == nil {
		annotations = info.Annotations
	}

	examples := file.Examples
	if examples == nil {
		examples = info.Examples
	}

	merged := map[string]any{}
	for k, v := range info.Metadata {
		merged[k] = v
	}
	for k, v := range file.Metadata {
		merged[k] = v
	}

	return ModuleDescriptor{
		Description:   description,
		Name:          name,
		Documentation: documentation,
		Version:       version,
		Tags:          tags,
		Annotations:   annotations,
		Examples:      examples,
		Metadata:      merged,
		InputSchema:   file.InputSchema,
		OutputSchema:  file.OutputSchema,
	}
}

// validateDescriptor checks that a resolved descriptor carries the fields
// the runtime requires of every module (§4.4 step 5), returning a list of
// human-readable errors; an empty list means valid.
func validateDescriptor(file *descriptorFile) []string {
	var errs []string
	if file.Factory == "" {
		errs = append(errs, "missing factory key")
	}
	if file.Description == "" {
		errs = append(errs, "missing or empty description")
	}
	return errs
}
