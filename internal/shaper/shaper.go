// Package shaper implements the unicast response shaper (spec §4.6): TTL
// capping, per-(owner,type) cache population — with the A/AAAA segregation
// spec §4.6 step 2 calls for — RFC 8766 §5.5.2 link-local/ULA suppression,
// the domain rewrite pass, and response-code selection.
//
// The same-link heuristic and the private-address tables are adapted from
// the teacher resolver's policy.go (DefaultTimeoutPolicy's PrivateNets
// table), generalized from "is this destination private" to "is this
// client on the same link as this candidate address".
package shaper

import (
	"errors"
	"net"

	"github.com/miekg/dns"

	"github.com/mdns-discovery-proxy/proxy/internal/proxyerr"
	"github.com/mdns-discovery-proxy/proxy/internal/rewrite"
	"github.com/mdns-discovery-proxy/proxy/internal/rrcache"
)

// MaxTTL is the RFC 8766 §5.5.1 ceiling enforced on every emitted record.
const MaxTTL = 10

// Outcome classifies how the lookup that produced Records concluded, so the
// shaper can pick the right response code (spec §4.6 step 5 / §7).
type Outcome int

const (
	// Success means one or more records were found.
	Success Outcome = iota
	// NoData means the lookup completed cleanly with nothing to return.
	NoData
	// LookupFailure means the mDNS layer itself failed (transport error).
	LookupFailure
	// OutOfScope means the classifier refused the question.
	OutOfScope
	// MalformedRequest means the transport could not parse the question.
	MalformedRequest
)

// Params bundles the shaper's inputs for a single question.
type Params struct {
	// QuestionName is the original, public (discovery-domain-form) name
	// exactly as asked by the client. Used as the cache key owner so results
	// populate the cache under the name clients actually query.
	QuestionName string
	QuestionType uint16

	DiscoveryDomain string

	Records []dns.RR
	Outcome Outcome

	ClientIP           net.IP
	SuppressionEnabled bool

	// Cache receives every non-empty resolved record set under its
	// (QuestionName, QuestionType) key (spec §4.3), with the A/AAAA
	// segregation spec §4.6 step 2 calls for. May be nil (e.g.
	// cache.enabled=false), in which case caching is skipped entirely.
	Cache *rrcache.Cache
}

// Result is the shaped response: the final record list (already rewritten
// into the discovery domain) and the DNS response code to send.
type Result struct {
	Records []dns.RR
	Rcode   int
}

// Shape runs the full pipeline described in spec §4.6.
func Shape(p Params) Result {
	records := capTTL(p.Records)
	records = segregateAndCache(p, records)
	records = suppress(records, p.ClientIP, p.SuppressionEnabled)
	records = rewriteAll(records, p.DiscoveryDomain)

	return Result{
		Records: records,
		Rcode:   rcodeFor(p.Outcome),
	}
}

func capTTL(rrs []dns.RR) []dns.RR {
	out := make([]dns.RR, len(rrs))
	for i, rr := range rrs {
		cp := dns.Copy(rr)
		if cp.Header().Ttl > MaxTTL {
			cp.Header().Ttl = MaxTTL
		}
		out[i] = cp
	}
	return out
}

// segregateAndCache populates the cache under the question's (owner, type)
// key (spec §4.3) for every question type, not just A/AAAA. For A/AAAA
// questions it additionally implements spec §4.6 step 2: split the result
// into its A and AAAA subsets, insert both into the cache (so a later AAAA
// query can reuse an IPv6 record learned while answering an A query and
// vice versa), and return only the subset matching the question.
func segregateAndCache(p Params, rrs []dns.RR) []dns.RR {
	if p.QuestionType == dns.TypeA || p.QuestionType == dns.TypeAAAA {
		return segregateAddressRecords(p, rrs)
	}

	if p.Cache != nil && len(rrs) > 0 {
		p.Cache.Insert(rrcache.NewKey(p.QuestionName, p.QuestionType), rrs)
	}
	return rrs
}

func segregateAddressRecords(p Params, rrs []dns.RR) []dns.RR {
	var aRecords, aaaaRecords []dns.RR
	for _, rr := range rrs {
		switch rr.Header().Rrtype {
		case dns.TypeA:
			aRecords = append(aRecords, rr)
		case dns.TypeAAAA:
			aaaaRecords = append(aaaaRecords, rr)
		}
	}

	if p.Cache != nil {
		if len(aRecords) > 0 {
			p.Cache.Insert(rrcache.NewKey(p.QuestionName, dns.TypeA), aRecords)
		}
		if len(aaaaRecords) > 0 {
			p.Cache.Insert(rrcache.NewKey(p.QuestionName, dns.TypeAAAA), aaaaRecords)
		}
	}

	if p.QuestionType == dns.TypeA {
		return aRecords
	}
	return aaaaRecords
}

func rewriteAll(rrs []dns.RR, discoveryDomain string) []dns.RR {
	out := make([]dns.RR, len(rrs))
	for i, rr := range rrs {
		out[i] = rewrite.RewriteRecordToDiscovery(rr, discoveryDomain)
	}
	return out
}

func rcodeFor(o Outcome) int {
	switch o {
	case Success, NoData:
		return dns.RcodeSuccess
	case LookupFailure:
		return dns.RcodeServerFailure
	case OutOfScope:
		return dns.RcodeNameError
	case MalformedRequest:
		return dns.RcodeFormatError
	default:
		return dns.RcodeServerFailure
	}
}

// suppress implements RFC 8766 §5.5.2: drop link-local/ULA address records
// unless the client is judged to be on the same link, and drop any SRV
// record whose target would itself be suppressed among the address records
// present in the same answer.
func suppress(rrs []dns.RR, clientIP net.IP, enabled bool) []dns.RR {
	if !enabled || clientIP == nil {
		return rrs
	}

	suppressedTargets := map[string]bool{}
	var kept []dns.RR

	for _, rr := range rrs {
		if drop := suppressAddress(rr, clientIP); drop {
			suppressedTargets[rr.Header().Name] = true
			continue
		}
		kept = append(kept, rr)
	}

	var out []dns.RR
	for _, rr := range kept {
		if srv, ok := rr.(*dns.SRV); ok && suppressedTargets[srv.Target] {
			continue
		}
		out = append(out, rr)
	}

	return out
}

func suppressAddress(rr dns.RR, clientIP net.IP) bool {
	switch r := rr.(type) {
	case *dns.A:
		if isIPv4LinkLocal(r.A) {
			return !sameLink(clientIP, r.A)
		}
	case *dns.AAAA:
		if isIPv6LinkLocal(r.AAAA) || isIPv6ULA(r.AAAA) {
			return !sameLink(clientIP, r.AAAA)
		}
	}
	return false
}

var (
	ipv4LinkLocal = mustParseCIDR("169.254.0.0/16")
	ipv6LinkLocal = mustParseCIDR("fe80::/10")
	ipv6ULA       = mustParseCIDR("fc00::/7")
)

func mustParseCIDR(cidr string) *net.IPNet {
	_, n, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(err)
	}
	return n
}

func isIPv4LinkLocal(ip net.IP) bool { return ipv4LinkLocal.Contains(ip) }
func isIPv6LinkLocal(ip net.IP) bool { return ipv6LinkLocal.Contains(ip) }
func isIPv6ULA(ip net.IP) bool       { return ipv6ULA.Contains(ip) }

// sameLink applies the coarse heuristic from spec §4.6: loopback clients are
// always considered same-link; two IPv4 addresses in the same RFC-1918-style
// /24 are same-link; two IPv6 link-local addresses are same-link. Anything
// else is treated as a different link.
func sameLink(client, candidate net.IP) bool {
	if client.IsLoopback() {
		return true
	}

	if c4, cand4 := client.To4(), candidate.To4(); c4 != nil && cand4 != nil {
		return c4[0] == cand4[0] && c4[1] == cand4[1] && c4[2] == cand4[2]
	}

	if client.To4() == nil && candidate.To4() == nil {
		return isIPv6LinkLocal(client) && isIPv6LinkLocal(candidate)
	}

	return false
}

// ErrorResult builds a Result for a transport/lookup failure or out-of-scope
// refusal, where there are no records to shape.
func ErrorResult(outcome Outcome) Result {
	return Result{Rcode: rcodeFor(outcome)}
}

// FromError maps one of proxyerr's sentinel kinds to the matching Outcome,
// for callers that only have an error in hand.
func FromError(err error) Outcome {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, proxyerr.ErrMalformedRequest):
		return MalformedRequest
	case errors.Is(err, proxyerr.ErrOutOfScope):
		return OutOfScope
	case errors.Is(err, proxyerr.ErrLookupFailure):
		return LookupFailure
	default:
		return LookupFailure
	}
}
