// Package manifest loads the YAML description of a stack of Lambda layers.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/theory-cloud/layertheory/pkg/layer"
	"github.com/theory-cloud/layertheory/pkg/observability"
)

// Manifest describes one stack of layers.
type Manifest struct {
	App    string `yaml:"app"`
	Stage  string `yaml:"stage"`
	Tenant string `yaml:"tenant"`

	Stack  StackConfig                `yaml:"stack"`
	Layers []LayerSpec                `yaml:"layers"`
	Log    observability.LoggerConfig `yaml:"log"`

	// dir is the directory relative asset paths resolve against.
	dir string
}

type StackConfig struct {
	Name        string            `yaml:"name"`
	Account     string            `yaml:"account"`
	Region      string            `yaml:"region"`
	Description string            `yaml:"description"`
	Tags        map[string]string `yaml:"tags"`
}

type LayerSpec struct {
	Name          string           `yaml:"name"`
	Description   string           `yaml:"description"`
	License       string           `yaml:"license"`
	Code          CodeSpec         `yaml:"code"`
	Runtimes      []string         `yaml:"runtimes"`
	Architectures []string         `yaml:"architectures"`
	RemovalPolicy string           `yaml:"removalPolicy"`
	Permissions   []PermissionSpec `yaml:"permissions"`
}

// CodeSpec points at either a local asset or an existing S3 object.
type CodeSpec struct {
	Asset         string `yaml:"asset"`
	Bucket        string `yaml:"bucket"`
	Key           string `yaml:"key"`
	ObjectVersion string `yaml:"objectVersion"`
}

type PermissionSpec struct {
	ID           string `yaml:"id"`
	Account      string `yaml:"account"`
	Organization string `yaml:"organization"`
}

// Permission converts the spec to a layer permission.
func (p PermissionSpec) Permission() layer.Permission {
	return layer.Permission{
		AccountID:      strings.TrimSpace(p.Account),
		OrganizationID: strings.TrimSpace(p.Organization),
	}
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	//nolint:gosec // The manifest path is supplied by the operator.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest: %s: %w", path, err)
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("manifest: resolve %s: %w", path, err)
	}
	m.dir = abs
	return m, nil
}

// Parse decodes and validates a manifest. Unknown keys are rejected.
func Parse(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Layer returns the layer spec with the given name.
func (m *Manifest) Layer(name string) (LayerSpec, bool) {
	for _, l := range m.Layers {
		if l.Name == name {
			return l, true
		}
	}
	return LayerSpec{}, false
}

// AssetPath resolves a layer's asset path against the manifest directory.
func (m *Manifest) AssetPath(spec LayerSpec) string {
	p := strings.TrimSpace(spec.Code.Asset)
	if p == "" || filepath.IsAbs(p) || m.dir == "" {
		return p
	}
	return filepath.Join(m.dir, p)
}

// Validate reports every problem in the manifest at once.
func (m *Manifest) Validate() error {
	var errs []error
	addf := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(m.App) == "" {
		addf("app is required")
	}
	if len(m.Layers) == 0 {
		addf("at least one layer is required")
	}

	names := map[string]bool{}
	for i, l := range m.Layers {
		where := fmt.Sprintf("layers[%d]", i)
		if strings.TrimSpace(l.Name) == "" {
			addf("%s: name is required", where)
		} else {
			where = fmt.Sprintf("layers[%d] (%s)", i, l.Name)
			if names[l.Name] {
				addf("%s: duplicate layer name", where)
			}
			names[l.Name] = true
		}

		if err := l.Code.validate(); err != nil {
			addf("%s: code: %w", where, err)
		}
		for _, r := range l.Runtimes {
			if _, err := layer.RuntimeFromName(r); err != nil {
				addf("%s: %w", where, err)
			}
		}
		for _, a := range l.Architectures {
			if _, err := layer.ArchitectureFromName(a); err != nil {
				addf("%s: %w", where, err)
			}
		}
		if l.RemovalPolicy != "" {
			if _, err := layer.RemovalPolicyFromName(l.RemovalPolicy); err != nil {
				addf("%s: %w", where, err)
			}
		}

		ids := map[string]bool{}
		for j, p := range l.Permissions {
			if strings.TrimSpace(p.ID) == "" {
				addf("%s: permissions[%d]: id is required", where, j)
				continue
			}
			if err := layer.ValidatePermissionID(p.ID); err != nil {
				addf("%s: permissions[%d]: %w", where, j, err)
			}
			if ids[p.ID] {
				addf("%s: permissions[%d]: duplicate id %q", where, j, p.ID)
			}
			ids[p.ID] = true
			if err := p.Permission().Validate(); err != nil {
				addf("%s: permissions[%d]: %w", where, j, err)
			}
		}
	}

	return errors.Join(errs...)
}

func (c CodeSpec) validate() error {
	asset := strings.TrimSpace(c.Asset) != ""
	bucket := strings.TrimSpace(c.Bucket) != "" || strings.TrimSpace(c.Key) != ""
	switch {
	case asset && bucket:
		return errors.New("asset and bucket are mutually exclusive")
	case asset:
		if c.ObjectVersion != "" {
			return errors.New("objectVersion requires bucket and key")
		}
		return nil
	case bucket:
		if strings.TrimSpace(c.Bucket) == "" || strings.TrimSpace(c.Key) == "" {
			return errors.New("bucket and key must both be set")
		}
		return nil
	default:
		return errors.New("one of asset or bucket/key is required")
	}
}
