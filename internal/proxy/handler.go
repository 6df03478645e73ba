// Package proxy wires the classifier, administrative answerer, mDNS engine,
// and response shaper together behind a single github.com/miekg/dns
// dns.Handler, implementing the request lifecycle from spec §4.7: Parsing,
// Classifying, Admin-or-Resolving, Shaping, and Emitting.
package proxy

import (
	"context"
	"net"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/mdns-discovery-proxy/proxy/internal/admin"
	"github.com/mdns-discovery-proxy/proxy/internal/classify"
	"github.com/mdns-discovery-proxy/proxy/internal/mdnsengine"
	"github.com/mdns-discovery-proxy/proxy/internal/proxyerr"
	"github.com/mdns-discovery-proxy/proxy/internal/rewrite"
	"github.com/mdns-discovery-proxy/proxy/internal/rrcache"
	"github.com/mdns-discovery-proxy/proxy/internal/shaper"
)

// Handler implements dns.Handler. One Handler is shared between the UDP and
// TCP dns.Server instances started by cmd/mdns-dns-proxy.
type Handler struct {
	DiscoveryDomain    string
	Engine             *mdnsengine.Engine
	Cache              *rrcache.Cache
	SuppressionEnabled bool
	Log                *logrus.Logger
}

// ServeDNS answers a single inbound unicast DNS request. The authoritative
// bit is always cleared (spec §4.6 step 6 / §6): this proxy answers by
// translation, not by holding the zone itself.
func (h *Handler) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Compress = true
	resp.Authoritative = false

	if !isAnswerable(req) {
		result := shaper.ErrorResult(shaper.FromError(proxyerr.ErrMalformedRequest))
		resp.Rcode = result.Rcode
		_ = w.WriteMsg(resp)
		return
	}

	q := req.Question[0]
	log := h.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	kind := classify.Classify(q.Name, q.Qtype, h.DiscoveryDomain)
	log.WithFields(logrus.Fields{
		"qname": q.Name,
		"qtype": dns.TypeToString[q.Qtype],
		"kind":  kind.String(),
	}).Debug("classified query")

	records, outcome := h.answer(context.Background(), q, kind)

	clientIP := clientAddrIP(w.RemoteAddr())
	result := shaper.Shape(shaper.Params{
		QuestionName:       q.Name,
		QuestionType:       q.Qtype,
		DiscoveryDomain:    h.DiscoveryDomain,
		Records:            records,
		Outcome:            outcome,
		ClientIP:           clientIP,
		SuppressionEnabled: h.SuppressionEnabled,
		Cache:              h.Cache,
	})

	resp.Rcode = result.Rcode
	resp.Answer = result.Records

	if err := w.WriteMsg(resp); err != nil {
		log.WithError(err).Warn("failed to write dns response")
	}
}

// answer runs the Admin-or-Resolve branch of the state diagram (spec §4.7)
// and returns the raw, not-yet-shaped record set together with the shaper
// Outcome that describes how the lookup concluded.
func (h *Handler) answer(ctx context.Context, q dns.Question, kind classify.Kind) ([]dns.RR, shaper.Outcome) {
	apex := h.DiscoveryDomain

	switch kind {
	case classify.Refuse:
		return nil, shaper.FromError(proxyerr.ErrOutOfScope)

	case classify.AdminZoneSOA:
		return admin.ZoneSOA(apex), shaper.Success

	case classify.AdminZoneNS:
		return admin.ZoneNS(apex), shaper.Success

	case classify.AdminDomainEnumeration:
		return admin.DomainEnumeration(q.Name, apex), shaper.Success

	case classify.AdminNegativeSRV:
		return admin.NegativeSRV(), shaper.NoData

	case classify.AdminDelegationBelowApex:
		return admin.DelegationBelowApex(), shaper.NoData

	case classify.Resolve:
		return h.resolve(ctx, q)

	default:
		return nil, shaper.FromError(proxyerr.ErrOutOfScope)
	}
}

// resolve implements the mDNS-backed branch: a cache hit short-circuits the
// mDNS engine entirely (spec §4.3) for any record type, not just A/AAAA; a
// miss queries the engine against the ".local." form of the question and
// lets the shaper populate the cache.
func (h *Handler) resolve(ctx context.Context, q dns.Question) ([]dns.RR, shaper.Outcome) {
	if h.Cache != nil {
		if cached, ok := h.Cache.Get(rrcache.NewKey(q.Name, q.Qtype)); ok {
			return cached, shaper.Success
		}
	}

	if h.Engine == nil {
		return nil, shaper.LookupFailure
	}

	local := rewrite.ToLocal(q.Name, h.DiscoveryDomain)
	records, err := h.Engine.Resolve(ctx, local, q.Qtype)
	if err != nil {
		return nil, shaper.FromError(err)
	}
	if len(records) == 0 {
		return nil, shaper.NoData
	}
	return records, shaper.Success
}

// isAnswerable rejects anything the admin/resolve machinery is not built to
// handle: more or less than one question, or a non-query opcode. Both map to
// FORMERR per spec §4.7's Parsing step.
func isAnswerable(req *dns.Msg) bool {
	return req.Opcode == dns.OpcodeQuery && len(req.Question) == 1
}

func clientAddrIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case *net.TCPAddr:
		return a.IP
	default:
		return nil
	}
}
