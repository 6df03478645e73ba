// Package rewrite implements the pure name translations between the public
// discovery domain and the ".local." mDNS link, per RFC 8766 §5.4.
//
// Every function here is a pure string/record transform; none of them touch
// the network or the cache. Domain names are compared case-insensitively and
// are always expected in absolute (trailing-dot) form, matching how
// github.com/miekg/dns represents names internally.
package rewrite

import (
	"strings"

	"github.com/miekg/dns"
	"golang.org/x/net/publicsuffix"
)

// LocalSuffix is the fixed mDNS link domain that every proxied name is
// translated to and from.
const LocalSuffix = "local."

// Normalize trims whitespace, lower-cases, strips a single leading dot, and
// ensures exactly one trailing dot on a configured discovery domain. It is
// the one place domain strings from config files, flags, or environment
// variables become the canonical absolute form used everywhere else.
func Normalize(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, ".")
	d = strings.TrimRight(d, ".") + "."
	return d
}

// ToLocal rewrites name from the discovery domain D to "local." if name ends
// with D (case-insensitively); otherwise it returns name unchanged. This is
// applied to outbound questions before they are sent to the mDNS engine.
func ToLocal(name, discoveryDomain string) string {
	if hasSuffixFold(name, discoveryDomain) {
		return name[:len(name)-len(discoveryDomain)] + LocalSuffix
	}
	return name
}

// ToDiscovery rewrites name from "local." to the discovery domain D if name
// ends with "local." (case-insensitively); otherwise it returns name
// unchanged. This is applied to every name on the way back out to the
// unicast client.
func ToDiscovery(name, discoveryDomain string) string {
	if hasSuffixFold(name, LocalSuffix) {
		return name[:len(name)-len(LocalSuffix)] + discoveryDomain
	}
	return name
}

func hasSuffixFold(name, suffix string) bool {
	if len(name) < len(suffix) {
		return false
	}
	return strings.EqualFold(name[len(name)-len(suffix):], suffix)
}

// RewriteRecordToDiscovery returns a copy of rr with its owner name and every
// embedded name (PTR.target, SRV.target, NS.target, SOA.mname, SOA.rname)
// rewritten from "local." to the discovery domain. TTL and other rdata
// scalars are left untouched here; the response shaper caps TTLs separately.
// A, AAAA, and TXT records carry no embedded names and are copied as-is.
func RewriteRecordToDiscovery(rr dns.RR, discoveryDomain string) dns.RR {
	out := dns.Copy(rr)
	hdr := out.Header()
	hdr.Name = ToDiscovery(hdr.Name, discoveryDomain)

	switch r := out.(type) {
	case *dns.PTR:
		r.Ptr = ToDiscovery(r.Ptr, discoveryDomain)
	case *dns.SRV:
		r.Target = ToDiscovery(r.Target, discoveryDomain)
	case *dns.NS:
		r.Ns = ToDiscovery(r.Ns, discoveryDomain)
	case *dns.SOA:
		r.Ns = ToDiscovery(r.Ns, discoveryDomain)
		r.Mbox = ToDiscovery(r.Mbox, discoveryDomain)
	}

	return out
}

// IsBarePublicSuffix reports whether domain (without its trailing dot) is
// itself a public suffix, such as "com." or "co.uk.". It is used at startup
// to reject a discovery_domain configuration that would otherwise shadow an
// entire public TLD.
func IsBarePublicSuffix(domain string) bool {
	name := strings.TrimSuffix(domain, ".")
	suffix, _ := publicsuffix.PublicSuffix(name)
	return suffix == name
}

// EqualInstanceName reports whether a and b refer to the same service
// instance name, accounting for the two encodings of a space in the first
// (instance) label that RFC 6763 permits: a literal space byte, or the
// escaped form "\032". Comparison is case-insensitive on the full name.
func EqualInstanceName(a, b string) bool {
	return strings.EqualFold(unescapeSpaces(a), unescapeSpaces(b))
}

func unescapeSpaces(name string) string {
	return strings.ReplaceAll(name, `\032`, " ")
}
