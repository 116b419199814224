package domain

import (
	"fmt"
	"strings"
)

// ResourceType classifies the content a request fetches. Values are single
// bits so that a rule's type filter is a plain mask.
type ResourceType uint32

const (
	TypeOther ResourceType = 1 << iota
	TypeScript
	TypeImage
	TypeStylesheet
	TypeObject
	TypeXMLHTTPRequest
	TypeSubdocument
	TypeDocument
	TypePing
	TypeMedia
	TypeFont
	TypeWebSocket
	TypeCSPReport
)

// AllResourceTypes is the mask with every known type set.
const AllResourceTypes = TypeOther | TypeScript | TypeImage | TypeStylesheet |
	TypeObject | TypeXMLHTTPRequest | TypeSubdocument | TypeDocument |
	TypePing | TypeMedia | TypeFont | TypeWebSocket | TypeCSPReport

var resourceTypeNames = map[ResourceType]string{
	TypeOther:          "other",
	TypeScript:         "script",
	TypeImage:          "image",
	TypeStylesheet:     "stylesheet",
	TypeObject:         "object",
	TypeXMLHTTPRequest: "xmlhttprequest",
	TypeSubdocument:    "subdocument",
	TypeDocument:       "document",
	TypePing:           "ping",
	TypeMedia:          "media",
	TypeFont:           "font",
	TypeWebSocket:      "websocket",
	TypeCSPReport:      "csp_report",
}

// resourceTypeAliases maps option spellings and browser request-type names to
// their canonical type.
var resourceTypeAliases = map[string]ResourceType{
	"css":               TypeStylesheet,
	"xhr":               TypeXMLHTTPRequest,
	"fetch":             TypeXMLHTTPRequest,
	"frame":             TypeSubdocument,
	"sub_frame":         TypeSubdocument,
	"iframe":            TypeSubdocument,
	"main_frame":        TypeDocument,
	"doc":               TypeDocument,
	"beacon":            TypePing,
	"object-subrequest": TypeObject,
	"object_subrequest": TypeObject,
	"imageset":          TypeImage,
	"other":             TypeOther,
	"speculative":       TypeOther,
	"web_manifest":      TypeOther,
}

// String returns the canonical option name of a single type, or a
// "|"-joined list for a mask.
func (t ResourceType) String() string {
	if name, ok := resourceTypeNames[t]; ok {
		return name
	}
	if t == 0 {
		return ""
	}
	var parts []string
	for bit := TypeOther; bit <= TypeCSPReport; bit <<= 1 {
		if t&bit != 0 {
			parts = append(parts, resourceTypeNames[bit])
		}
	}
	if rest := t &^ AllResourceTypes; rest != 0 {
		parts = append(parts, fmt.Sprintf("ResourceType(%#x)", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// ParseResourceType converts a type name into a ResourceType. Both option
// names ("stylesheet", "css") and browser request types ("sub_frame") are
// accepted, case-insensitively.
func ParseResourceType(s string) (ResourceType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	if t, ok := resourceTypeAliases[s]; ok {
		return t, true
	}
	for t, name := range resourceTypeNames {
		if name == s {
			return t, true
		}
	}
	return 0, false
}
