package class

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	cerrors "github.com/randalmurphal/capsule/pkg/capsule/errors"
	"github.com/randalmurphal/capsule/pkg/capsule/iface"
)

// DescriptorSuffix marks plugin descriptor files.
const DescriptorSuffix = ".capsule.yaml"

// Descriptor describes a plugin class.
type Descriptor struct {
	Class        string        `yaml:"class"`
	Interface    string        `yaml:"interface,omitempty"`
	Version      iface.Version `yaml:"version"`
	Description  string        `yaml:"description,omitempty"`
	Dependencies []string      `yaml:"dependencies,omitempty"`

	// Module is the file the class is loaded from. A relative path is
	// resolved against the descriptor's directory.
	Module string `yaml:"module,omitempty"`
}

// Validate checks the required fields.
func (d Descriptor) Validate() error {
	if d.Class == "" {
		return cerrors.InvalidArgument("class.descriptor", "missing class")
	}
	for _, dep := range d.Dependencies {
		if dep == "" || dep == d.Class {
			return cerrors.New("class.descriptor", cerrors.KindInvalidArgument).
				Subject(d.Class).Detail("invalid dependency %q", dep).Build()
		}
	}
	return nil
}

// ParseDescriptor decodes a YAML descriptor.
func ParseDescriptor(data []byte) (Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Descriptor{}, fmt.Errorf("parse descriptor: %w", err)
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// LoadDescriptor reads the descriptor at path and resolves its module path.
func LoadDescriptor(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("read descriptor: %w", err)
	}
	d, err := ParseDescriptor(data)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%s: %w", path, err)
	}
	if d.Module != "" && !filepath.IsAbs(d.Module) {
		d.Module = filepath.Join(filepath.Dir(path), d.Module)
	}
	return d, nil
}

// Resolver turns a descriptor into a factory.
type Resolver interface {
	Resolve(ctx context.Context, d Descriptor) (Factory, error)
}

// Scanner discovers plugin classes on a search path.
type Scanner struct {
	paths    []string
	resolver Resolver
	logger   *slog.Logger
}

// NewScanner creates a scanner over paths. Paths may start with "~".
// A nil logger discards output.
func NewScanner(paths []string, resolver Resolver, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	expanded := make([]string, 0, len(paths))
	for _, p := range paths {
		if e, err := homedir.Expand(p); err == nil {
			p = e
		}
		expanded = append(expanded, p)
	}
	return &Scanner{paths: expanded, resolver: resolver, logger: logger}
}

// Paths returns the expanded search path.
func (s *Scanner) Paths() []string {
	return s.paths
}

// Scan reads every descriptor below the search path. Missing directories
// are skipped. Unreadable descriptors are logged and skipped.
func (s *Scanner) Scan() ([]Descriptor, error) {
	var found []Descriptor
	for _, root := range s.paths {
		err := filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), DescriptorSuffix) {
				return nil
			}
			d, err := LoadDescriptor(p)
			if err != nil {
				s.logger.Warn("skipping descriptor",
					slog.String("path", p),
					slog.String("error", err.Error()),
				)
				return nil
			}
			found = append(found, d)
			return nil
		})
		if err != nil {
			return found, fmt.Errorf("scan %s: %w", root, err)
		}
	}
	return found, nil
}

// Discover registers every scanned class that r does not know yet.
// Descriptors without a module carry no code and are skipped.
func (s *Scanner) Discover(ctx context.Context, r *Registry) error {
	descriptors, err := s.Scan()
	var errs []error
	if err != nil {
		errs = append(errs, err)
	}
	for _, d := range descriptors {
		if r.Has(d.Class) {
			continue
		}
		if d.Module == "" || s.resolver == nil {
			s.logger.Debug("descriptor has no loadable module", slog.String("class_id", d.Class))
			continue
		}
		f, err := s.resolver.Resolve(ctx, d)
		if err != nil {
			errs = append(errs, fmt.Errorf("resolve %s: %w", d.Class, err))
			continue
		}
		if err := r.RegisterDescriptor(d, f); err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.Info("class discovered",
			slog.String("class_id", d.Class),
			slog.String("module", d.Module),
		)
	}
	return errors.Join(errs...)
}
