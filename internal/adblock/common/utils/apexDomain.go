package utils

import (
	"net"

	"golang.org/x/net/publicsuffix"
)

// GetApexDomain returns the registrable domain (eTLD+1) of name. IP literals
// and names the public suffix list cannot split are returned unchanged.
func GetApexDomain(name string) string {
	name = CanonicalHost(name)
	if name == "" || net.ParseIP(name) != nil {
		return name
	}
	apexDomain, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		apexDomain = name // Fallback to the original name if parsing fails
	}
	return apexDomain
}

// IsThirdParty reports whether a request to requestHost made from a document
// on sourceHost crosses registrable domains. known is false when either host
// is empty, in which case the relation cannot be decided.
func IsThirdParty(requestHost, sourceHost string) (thirdParty, known bool) {
	if requestHost == "" || sourceHost == "" {
		return false, false
	}
	return GetApexDomain(requestHost) != GetApexDomain(sourceHost), true
}
