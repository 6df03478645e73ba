package classify

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
)

const discoveryDomain = "mdns.home.arpa."

func TestClassify(t *testing.T) {
	cases := []struct {
		name  string
		qtype uint16
		want  Kind
	}{
		{"printer.mdns.home.arpa.", dns.TypeA, Resolve},
		{"mdns.home.arpa.", dns.TypeSOA, AdminZoneSOA},
		{"mdns.home.arpa.", dns.TypeNS, AdminZoneNS},
		{"b._dns-sd._udp.mdns.home.arpa.", dns.TypePTR, AdminDomainEnumeration},
		{"db._dns-sd._udp.mdns.home.arpa.", dns.TypePTR, AdminDomainEnumeration},
		{"lb._dns-sd._udp.mdns.home.arpa.", dns.TypePTR, AdminDomainEnumeration},
		{"_dns-update._udp.mdns.home.arpa.", dns.TypeSRV, AdminNegativeSRV},
		{"_dns-llq-tls._tcp.mdns.home.arpa.", dns.TypeSRV, AdminNegativeSRV},
		{"_dns-push-tls._tcp.mdns.home.arpa.", dns.TypeSRV, AdminNegativeSRV},
		{"sub.mdns.home.arpa.", dns.TypeSOA, AdminDelegationBelowApex},
		{"sub.mdns.home.arpa.", dns.TypeNS, AdminDelegationBelowApex},
		{"sub.mdns.home.arpa.", dns.TypeDS, AdminDelegationBelowApex},
		{"example.com.", dns.TypeA, Refuse},
		{"example.com", dns.TypeA, Refuse},
		{"mdns.home.arpa", dns.TypeSOA, AdminZoneSOA}, // trailing dot optional on input
	}

	for _, tc := range cases {
		got := Classify(tc.name, tc.qtype, discoveryDomain)
		assert.Equalf(t, tc.want, got, "Classify(%q, %d)", tc.name, tc.qtype)
	}
}

func TestClassifyInteriorServiceLabelsAreNeverRefused(t *testing.T) {
	got := Classify("instance._http._tcp.elsewhere.example.", dns.TypeSRV, discoveryDomain)
	assert.NotEqual(t, Refuse, got)
}
