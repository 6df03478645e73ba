// Package mdnsengine implements the mDNS resolution engine (spec §4.4): the
// typed, time-bounded routines that drive queries against the shared mDNS
// daemon and assemble github.com/miekg/dns resource records.
//
// The daemon itself is github.com/joshuafuller/beacon's querier.Querier,
// which performs one bounded multicast exchange per call and returns an
// already-deduplicated, aggregated Response rather than a raw incremental
// event stream. The PTR, SRV and TXT routines below reproduce the spec's
// time-bounded polling discipline (an overall deadline plus a per-iteration
// budget that wakes the loop to re-check it) by repeating bounded Query
// calls and merging their results until the overall deadline elapses; A/AAAA
// resolution makes a single Query bounded by the hostname deadline. See
// DESIGN.md for why this shape was chosen over a hand-rolled multicast
// client.
package mdnsengine

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/joshuafuller/beacon/querier"

	"github.com/mdns-discovery-proxy/proxy/internal/proxyerr"
	"github.com/mdns-discovery-proxy/proxy/internal/rewrite"
)

// Daemon is the subset of beacon's querier.Querier that the engine depends
// on. Accepting the interface rather than *querier.Querier lets tests
// supply a fake responder without opening real multicast sockets.
type Daemon interface {
	Query(ctx context.Context, name string, rtype querier.RecordType) (*querier.Response, error)
}

// Timeouts bundles the three deadlines from spec §3 config.mdns.
type Timeouts struct {
	ServiceQueryTimeout       time.Duration
	ServicePollInterval       time.Duration
	HostnameResolutionTimeout time.Duration
}

// Engine runs browses and resolutions against a shared Daemon.
type Engine struct {
	daemon   Daemon
	timeouts Timeouts
	log      *logrus.Logger
}

// New returns an Engine driving daemon under the given timeouts. log may be
// nil, in which case a logger that discards everything is used.
func New(daemon Daemon, timeouts Timeouts, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.New()
		log.Out = discardWriter{}
	}
	return &Engine{daemon: daemon, timeouts: timeouts, log: log}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// Resolve dispatches question (already mapped to ".local.") by qtype,
// following the table in spec §4.4. SOA/NS are not handled here; they are
// synthesized directly by the admin answerer before the engine is ever
// consulted.
func (e *Engine) Resolve(ctx context.Context, questionLocal string, qtype uint16) ([]dns.RR, error) {
	switch qtype {
	case dns.TypeA, dns.TypeAAAA:
		return e.resolveAddress(ctx, questionLocal)
	case dns.TypePTR:
		return e.browseServiceType(ctx, questionLocal)
	case dns.TypeSRV:
		return e.resolveInstance(ctx, questionLocal, dns.TypeSRV)
	case dns.TypeTXT:
		return e.resolveInstance(ctx, questionLocal, dns.TypeTXT)
	default:
		e.log.WithFields(logrus.Fields{"qname": questionLocal, "qtype": qtype}).Debug("unsupported record type for mdns engine")
		return nil, nil
	}
}

// resolveAddress implements the A/AAAA routine (spec §4.4 "Address
// resolution"). Both address families are collected from a single browse
// pass; segregation by record type happens in the response shaper.
func (e *Engine) resolveAddress(ctx context.Context, questionLocal string) ([]dns.RR, error) {
	if !strings.HasSuffix(strings.ToLower(questionLocal), "."+rewrite.LocalSuffix) && !strings.EqualFold(questionLocal, rewrite.LocalSuffix) {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeouts.HostnameResolutionTimeout)
	defer cancel()

	resp, err := e.daemon.Query(ctx, trimDot(questionLocal), querier.RecordTypeA)
	if err != nil {
		if ctxDeadlineOrCancel(err) {
			return nil, nil
		}
		e.log.WithFields(logrus.Fields{"qname": questionLocal}).WithError(err).Warn("mdns address resolution failed")
		return nil, proxyerr.ErrLookupFailure
	}

	var out []dns.RR
	for _, r := range resp.Records {
		ip := r.AsA()
		if ip == nil {
			continue
		}
		if ip4 := ip.To4(); ip4 != nil {
			out = append(out, &dns.A{
				Hdr: dns.RR_Header{Name: questionLocal, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 120},
				A:   ip4,
			})
		} else {
			out = append(out, &dns.AAAA{
				Hdr:  dns.RR_Header{Name: questionLocal, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: 120},
				AAAA: ip,
			})
		}
	}

	return dedupByRdata(out), nil
}

// browseServiceType implements the PTR routine: poll the service type
// (questionLocal is already e.g. "_http._tcp.local.") until
// ServiceQueryTimeout elapses, waking at most every ServicePollInterval to
// check the overall deadline and merge newly discovered instances.
func (e *Engine) browseServiceType(ctx context.Context, questionLocal string) ([]dns.RR, error) {
	results, err := e.pollUntilDeadline(ctx, func(ctx context.Context) (*querier.Response, error) {
		return e.daemon.Query(ctx, trimDot(questionLocal), querier.RecordTypePTR)
	})
	if err != nil {
		e.log.WithFields(logrus.Fields{"qname": questionLocal}).WithError(err).Warn("mdns service browse failed")
		return nil, proxyerr.ErrLookupFailure
	}

	var out []dns.RR
	seen := map[string]bool{}
	for _, resp := range results {
		for _, r := range resp.Records {
			target := r.AsPTR()
			if target == "" || seen[target] {
				continue
			}
			seen[target] = true
			out = append(out, &dns.PTR{
				Hdr: dns.RR_Header{Name: questionLocal, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 120},
				Ptr: ensureDot(target),
			})
		}
	}

	return dedupByRdata(out), nil
}

// resolveInstance implements the SRV/TXT routine for a service-instance
// question name (I._type._proto.local.). The enclosing service type is not
// separately queried: the querier is asked for the instance name directly.
// Returned records whose owner name does not match the question (compared
// with rewrite.EqualInstanceName, so either encoding of a space matches) are
// skipped.
func (e *Engine) resolveInstance(ctx context.Context, questionLocal string, qtype uint16) ([]dns.RR, error) {
	if len(dns.SplitDomainName(ensureDot(questionLocal))) < 4 {
		return nil, nil
	}

	rtype := querier.RecordTypeSRV
	if qtype == dns.TypeTXT {
		rtype = querier.RecordTypeTXT
	}

	results, err := e.pollUntilDeadline(ctx, func(ctx context.Context) (*querier.Response, error) {
		return e.daemon.Query(ctx, trimDot(questionLocal), rtype)
	})
	if err != nil {
		e.log.WithFields(logrus.Fields{"qname": questionLocal}).WithError(err).Warn("mdns instance resolution failed")
		return nil, proxyerr.ErrLookupFailure
	}

	for _, resp := range results {
		for _, r := range resp.Records {
			if !rewrite.EqualInstanceName(r.Name, trimDot(questionLocal)) {
				continue
			}
			if qtype == dns.TypeSRV {
				if srv := r.AsSRV(); srv != nil {
					return []dns.RR{&dns.SRV{
						Hdr:      dns.RR_Header{Name: questionLocal, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: 120},
						Priority: 0,
						Weight:   0,
						Port:     srv.Port,
						Target:   ensureDot(srv.Target),
					}}, nil
				}
			} else {
				if txt := r.AsTXT(); len(txt) > 0 {
					return []dns.RR{&dns.TXT{
						Hdr: dns.RR_Header{Name: questionLocal, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 120},
						Txt: txt,
					}}, nil
				}
			}
		}
	}

	return nil, nil
}

// pollUntilDeadline calls query repeatedly, each bounded by
// ServicePollInterval, until ServiceQueryTimeout has elapsed overall. Every
// response (including empty ones from rounds with no new answers) is
// collected; callers merge/dedup as appropriate for their record type.
func (e *Engine) pollUntilDeadline(ctx context.Context, query func(ctx context.Context) (*querier.Response, error)) ([]*querier.Response, error) {
	overall, cancel := context.WithTimeout(ctx, e.timeouts.ServiceQueryTimeout)
	defer cancel()

	var results []*querier.Response
	for {
		roundCtx, roundCancel := context.WithTimeout(overall, e.timeouts.ServicePollInterval)
		resp, err := query(roundCtx)
		roundCancel()

		if err != nil {
			if ctxDeadlineOrCancel(err) {
				// This round timed out or was cancelled; see whether the
				// overall budget is also spent.
				select {
				case <-overall.Done():
					return results, nil
				default:
					continue
				}
			}
			return results, err
		}

		if resp != nil {
			results = append(results, resp)
		}

		select {
		case <-overall.Done():
			return results, nil
		default:
		}
	}
}

func ctxDeadlineOrCancel(err error) bool {
	return err == context.DeadlineExceeded || err == context.Canceled
}

func trimDot(name string) string {
	return strings.TrimSuffix(name, ".")
}

func ensureDot(name string) string {
	if strings.HasSuffix(name, ".") {
		return name
	}
	return name + "."
}

// dedupByRdata stable-sorts rrs by their string rdata and removes adjacent
// duplicates, per spec §4.4's dedup step.
func dedupByRdata(rrs []dns.RR) []dns.RR {
	if len(rrs) < 2 {
		return rrs
	}

	sort.SliceStable(rrs, func(i, j int) bool {
		return rdataString(rrs[i]) < rdataString(rrs[j])
	})

	out := rrs[:1]
	for _, rr := range rrs[1:] {
		if rdataString(rr) != rdataString(out[len(out)-1]) {
			out = append(out, rr)
		}
	}
	return out
}

func rdataString(rr dns.RR) string {
	switch r := rr.(type) {
	case *dns.A:
		return r.A.String()
	case *dns.AAAA:
		return r.AAAA.String()
	default:
		return rr.String()
	}
}
