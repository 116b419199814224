package domain

import (
	"strings"

	"github.com/haukened/rr-adblock/internal/adblock/common/utils"
)

// Request is a network request as seen by the matcher. Derived fields are
// computed once by NewRequest so matching never re-parses the URL.
type Request struct {
	URL        string
	LowerURL   string
	Host       string // canonical host of URL, "" if none
	SourceURL  string
	SourceHost string       // canonical host of SourceURL, "" if none
	Type       ResourceType // 0 when the type is empty or unknown
	ThirdParty bool
	PartyKnown bool // false when ThirdParty could not be determined
}

// NewRequest builds a Request from raw binding arguments. It never fails:
// unparseable URLs simply yield empty hosts and an unknown party relation.
func NewRequest(rawURL, sourceURL, resourceType string) Request {
	req := Request{
		URL:        rawURL,
		LowerURL:   strings.ToLower(rawURL),
		Host:       utils.HostFromURL(rawURL),
		SourceURL:  sourceURL,
		SourceHost: utils.HostFromURL(sourceURL),
	}
	req.Type, _ = ParseResourceType(resourceType)
	req.ThirdParty, req.PartyKnown = utils.IsThirdParty(req.Host, req.SourceHost)
	return req
}

// WithThirdParty returns a copy of r with the party relation forced, as when
// the caller already knows it.
func (r Request) WithThirdParty(thirdParty bool) Request {
	r.ThirdParty = thirdParty
	r.PartyKnown = true
	return r
}

// CacheKey identifies the request for decision caching. Two requests with
// the same key always produce the same verdict for a fixed engine state.
func (r Request) CacheKey() string {
	var party byte = '?'
	if r.PartyKnown {
		party = '1'
		if r.ThirdParty {
			party = '3'
		}
	}
	var b strings.Builder
	b.Grow(len(r.URL) + len(r.SourceHost) + 16)
	b.WriteString(r.URL)
	b.WriteByte(0)
	b.WriteString(r.SourceHost)
	b.WriteByte(0)
	b.WriteString(r.Type.String())
	b.WriteByte(0)
	b.WriteByte(party)
	return b.String()
}
