// Package classify implements the query classifier (spec §4.1): it decides
// whether an inbound question belongs to the administrative answerer, the
// mDNS resolution engine, or must be refused outright.
package classify

import (
	"strings"

	"github.com/miekg/dns"
)

// Kind identifies which bucket a question falls into.
type Kind int

const (
	// Refuse means the question is outside the proxy's zone entirely.
	Refuse Kind = iota
	// AdminZoneSOA means a SOA query landed exactly on the zone apex.
	AdminZoneSOA
	// AdminZoneNS means an NS query landed exactly on the zone apex.
	AdminZoneNS
	// AdminDomainEnumeration means a DNS-SD enumeration PTR query (RFC 6763 §11).
	AdminDomainEnumeration
	// AdminNegativeSRV means a query for one of the administrative SRV
	// pseudo-services (DNS Update, LLQ, Push) that the proxy answers with an
	// empty record set.
	AdminNegativeSRV
	// AdminDelegationBelowApex means an SOA/NS/DS query strictly below the
	// zone apex, which the proxy does not delegate.
	AdminDelegationBelowApex
	// Resolve means the question should be forwarded to the mDNS engine.
	Resolve
)

func (k Kind) String() string {
	switch k {
	case Refuse:
		return "Refuse"
	case AdminZoneSOA:
		return "AdminZoneSOA"
	case AdminZoneNS:
		return "AdminZoneNS"
	case AdminDomainEnumeration:
		return "AdminDomainEnumeration"
	case AdminNegativeSRV:
		return "AdminNegativeSRV"
	case AdminDelegationBelowApex:
		return "AdminDelegationBelowApex"
	case Resolve:
		return "Resolve"
	default:
		return "Unknown"
	}
}

// negativeSRVPrefixes are the first labels of administrative SRV
// pseudo-services per RFC 8766 / the zero-conf registry: DNS Update,
// Long-Lived Queries, and DNS Push, each of which the proxy answers with an
// empty record set rather than attempting to resolve over mDNS.
var negativeSRVPrefixes = []string{
	"_dns-update._udp",
	"_dns-update._tcp",
	"_dns-update-tls._tcp",
	"_dns-llq._udp",
	"_dns-llq._tcp",
	"_dns-llq-tls._tcp",
	"_dns-push-tls._tcp",
}

// domainEnumerationPrefixes are the first three labels of RFC 6763 §11
// domain enumeration PTR queries.
var domainEnumerationPrefixes = []string{
	"b._dns-sd._udp",
	"db._dns-sd._udp",
	"lb._dns-sd._udp",
}

// Classify decides the Kind of question (name, qtype) against the
// configured, already-Normalize-d discoveryDomain.
func Classify(name string, qtype uint16, discoveryDomain string) Kind {
	apex := discoveryDomain

	if !inScope(name, discoveryDomain) {
		return Refuse
	}

	if qtype == dns.TypePTR && hasLabelPrefix(name, domainEnumerationPrefixes) {
		return AdminDomainEnumeration
	}

	if qtype == dns.TypeSRV && hasLabelPrefix(name, negativeSRVPrefixes) {
		return AdminNegativeSRV
	}

	if qtype == dns.TypeSOA && equalFoldDot(name, apex) {
		return AdminZoneSOA
	}

	if qtype == dns.TypeNS && equalFoldDot(name, apex) {
		return AdminZoneNS
	}

	if (qtype == dns.TypeSOA || qtype == dns.TypeNS || qtype == dns.TypeDS) && isStrictAncestor(apex, name) {
		return AdminDelegationBelowApex
	}

	return Resolve
}

// inScope implements rule 1: name must end in discoveryDomain (dot optional
// on input) or contain an interior "._tcp." / "._udp." label sequence (so
// that, e.g., a bare service-instance query under a different-looking name
// still reaches the proxy as long as it is a DNS-SD style name).
func inScope(name, discoveryDomain string) bool {
	if hasSuffixFoldDotOptional(name, discoveryDomain) {
		return true
	}
	lower := strings.ToLower(name)
	return strings.Contains(lower, "._tcp.") || strings.Contains(lower, "._udp.")
}

func hasSuffixFoldDotOptional(name, suffix string) bool {
	n := ensureTrailingDot(name)
	s := ensureTrailingDot(suffix)
	if len(n) < len(s) {
		return false
	}
	return strings.EqualFold(n[len(n)-len(s):], s)
}

func ensureTrailingDot(s string) string {
	if strings.HasSuffix(s, ".") {
		return s
	}
	return s + "."
}

func equalFoldDot(a, b string) bool {
	return strings.EqualFold(ensureTrailingDot(a), ensureTrailingDot(b))
}

// hasLabelPrefix reports whether name's leading labels spell out one of
// prefixes (each itself a dot-joined run of labels), case-insensitively.
func hasLabelPrefix(name string, prefixes []string) bool {
	lower := strings.ToLower(ensureTrailingDot(name))
	for _, p := range prefixes {
		p = strings.ToLower(p) + "."
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// isStrictAncestor reports whether apex is a proper ancestor of name: name
// has strictly more labels than apex, and apex is a case-insensitive label
// suffix of name.
func isStrictAncestor(apex, name string) bool {
	apexLabels := dns.SplitDomainName(ensureTrailingDot(apex))
	nameLabels := dns.SplitDomainName(ensureTrailingDot(name))

	if len(nameLabels) <= len(apexLabels) {
		return false
	}

	offset := len(nameLabels) - len(apexLabels)
	for i, l := range apexLabels {
		if !strings.EqualFold(l, nameLabels[offset+i]) {
			return false
		}
	}
	return true
}
