package domain

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Resource is a redirect target that $redirect rules refer to by name.
// Content is base64 encoded, as in uBlock-style resource bundles.
type Resource struct {
	Name        string
	Aliases     []string
	ContentType string // mime type, e.g. "application/javascript"
	Content     string
}

// NewResource constructs a Resource and validates its fields.
func NewResource(name, contentType, content string, aliases ...string) (Resource, error) {
	r := Resource{
		Name:        strings.TrimSpace(name),
		Aliases:     aliases,
		ContentType: strings.TrimSpace(contentType),
		Content:     strings.TrimSpace(content),
	}
	if err := r.Validate(); err != nil {
		return Resource{}, err
	}
	return r, nil
}

// Validate checks the Resource for required fields and decodable content.
func (r Resource) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("resource name must not be empty")
	}
	if r.ContentType == "" {
		return fmt.Errorf("resource %q: content type must not be empty", r.Name)
	}
	if !strings.Contains(r.ContentType, "/") {
		return fmt.Errorf("resource %q: content type %q is not a mime type", r.Name, r.ContentType)
	}
	if _, err := base64.StdEncoding.DecodeString(r.Content); err != nil {
		return fmt.Errorf("resource %q: content is not base64: %w", r.Name, err)
	}
	return nil
}

// DataURL renders the resource as a data URL suitable for redirecting a
// request.
func (r Resource) DataURL() string {
	return "data:" + r.ContentType + ";base64," + r.Content
}
