// Package admin synthesizes answers for questions the classifier routes to
// the administrative bucket (spec §4.5): zone SOA/NS, RFC 6763 §11 domain
// enumeration, negative answers for delegation-below-apex, and negative
// answers for the mDNS-inapplicable SRV pseudo-services (DNS Update, LLQ,
// Push). None of these touch the mDNS layer.
package admin

import "github.com/miekg/dns"

// discoveryProxyHost is the internal, not-yet-rewritten hostname used as the
// SOA mname / NS target. The response shaper's domain-rewrite pass (spec
// §4.6 step 4) turns its "local." suffix into the configured discovery
// domain, exactly like any other record sourced from the mDNS link.
const discoveryProxyHost = "discovery-proxy.local."

const adminTTL = 10

// ZoneSOA returns the single SOA record synthesized for a query of SOA at
// the zone apex.
func ZoneSOA(apex string) []dns.RR {
	return []dns.RR{&dns.SOA{
		Hdr: dns.RR_Header{
			Name:   apex,
			Rrtype: dns.TypeSOA,
			Class:  dns.ClassINET,
			Ttl:    adminTTL,
		},
		Ns:      discoveryProxyHost,
		Mbox:    "hostmaster.local.",
		Serial:  0,
		Refresh: 7200,
		Retry:   3600,
		Expire:  86400,
		Minttl:  10,
	}}
}

// ZoneNS returns the single NS record synthesized for a query of NS at the
// zone apex.
func ZoneNS(apex string) []dns.RR {
	return []dns.RR{&dns.NS{
		Hdr: dns.RR_Header{
			Name:   apex,
			Rrtype: dns.TypeNS,
			Class:  dns.ClassINET,
			Ttl:    adminTTL,
		},
		Ns: discoveryProxyHost,
	}}
}

// DomainEnumeration returns the single PTR record answering an RFC 6763 §11
// browse/legacy/default-browse domain enumeration query: the question name
// points back at the zone apex.
func DomainEnumeration(question, apex string) []dns.RR {
	return []dns.RR{&dns.PTR{
		Hdr: dns.RR_Header{
			Name:   question,
			Rrtype: dns.TypePTR,
			Class:  dns.ClassINET,
			Ttl:    adminTTL,
		},
		Ptr: apex,
	}}
}

// DelegationBelowApex answers an SOA/NS/DS query strictly below the zone
// apex with an empty, successful record set (NOERROR / no data): the proxy
// does not delegate sub-zones.
func DelegationBelowApex() []dns.RR {
	return nil
}

// NegativeSRV answers one of the administrative SRV pseudo-services (DNS
// Update, LLQ, Push) with an empty record set.
func NegativeSRV() []dns.RR {
	return nil
}
