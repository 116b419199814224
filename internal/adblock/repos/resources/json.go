package resources

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.uber.org/multierr"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// jsonResource is one entry of a resource bundle:
//
//	{"name": "noop.js", "aliases": ["noopjs"], "kind": {"mime": "application/javascript"}, "content": "KGZ1bmN0aW9uKCkge30pKCk7"}
type jsonResource struct {
	Name    string       `json:"name"`
	Aliases []string     `json:"aliases"`
	Kind    resourceKind `json:"kind"`
	Content string       `json:"content"`
}

// resourceKind accepts {"mime": "..."} or the bare string "template".
// Templates are not supported and leave Mime empty.
type resourceKind struct {
	Mime     string
	Template bool
}

func (k *resourceKind) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		k.Template = s == "template"
		if !k.Template {
			return fmt.Errorf("unknown resource kind %q", s)
		}
		return nil
	}
	var obj struct {
		Mime string `json:"mime"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	k.Mime = obj.Mime
	return nil
}

// ParseJSON decodes a JSON array of resources. Malformed JSON fails as a
// whole. Entries that decode but do not validate are dropped and reported
// together in the returned error next to the valid ones.
func ParseJSON(data []byte) ([]domain.Resource, error) {
	var raw []jsonResource
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding resources json: %w", err)
	}

	var (
		out  = make([]domain.Resource, 0, len(raw))
		errs error
	)
	for i, jr := range raw {
		if jr.Kind.Template {
			errs = multierr.Append(errs, fmt.Errorf("resource %d %q: templates are not supported", i, jr.Name))
			continue
		}
		r, err := domain.NewResource(jr.Name, jr.Kind.Mime, jr.Content, jr.Aliases...)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("resource %d: %w", i, err))
			continue
		}
		out = append(out, r)
	}
	return out, errs
}
