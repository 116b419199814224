package resources

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"go.uber.org/multierr"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// fileResource is a resource entry in a YAML, JSON or TOML resource file:
//
//	resources:
//	  - name: 1x1.gif
//	    aliases: [1x1-transparent.gif]
//	    mime: image/gif
//	    content: R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7
type fileResource struct {
	Name    string   `koanf:"name"`
	Aliases []string `koanf:"aliases"`
	Mime    string   `koanf:"mime"`
	Content string   `koanf:"content"`
}

// LoadDir walks dir and loads every supported resource file (YAML, JSON,
// TOML). A JSON file holding a top-level array is read as a resource
// bundle. Files with other extensions are ignored. Failing files and
// entries do not stop the walk; their errors are combined in the returned
// error alongside every resource that did load.
func LoadDir(dir string) ([]domain.Resource, error) {
	var (
		out  []domain.Resource
		errs error
	)
	walkErr := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rs, ferr := loadFile(path)
		if ferr != nil {
			errs = multierr.Append(errs, fmt.Errorf("resource file %s: %w", path, ferr))
		}
		out = append(out, rs...)
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return out, errs
}

// loadFile loads one resource file, picking the parser by extension.
func loadFile(path string) ([]domain.Resource, error) {
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if t := bytes.TrimSpace(data); len(t) > 0 && t[0] == '[' {
			return ParseJSON(data)
		}
		parser = json.Parser()
	case ".toml":
		parser = toml.Parser()
	default:
		return nil, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("failed to load: %w", err)
	}
	if !k.Exists("resources") {
		return nil, fmt.Errorf("missing 'resources' list")
	}

	var entries []fileResource
	if err := k.Unmarshal("resources", &entries); err != nil {
		return nil, fmt.Errorf("decoding resources: %w", err)
	}

	var (
		out  = make([]domain.Resource, 0, len(entries))
		errs error
	)
	for i, e := range entries {
		r, err := domain.NewResource(e.Name, e.Mime, e.Content, e.Aliases...)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		out = append(out, r)
	}
	return out, errs
}
