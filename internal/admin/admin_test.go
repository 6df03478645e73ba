package admin

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZoneSOA(t *testing.T) {
	rrs := ZoneSOA("mdns.home.arpa.")
	require.Len(t, rrs, 1)
	soa := rrs[0].(*dns.SOA)
	assert.Equal(t, "mdns.home.arpa.", soa.Hdr.Name)
	assert.Equal(t, uint32(10), soa.Hdr.Ttl)
	assert.Equal(t, "discovery-proxy.local.", soa.Ns)
	assert.Equal(t, "hostmaster.local.", soa.Mbox)
	assert.EqualValues(t, 0, soa.Serial)
	assert.EqualValues(t, 7200, soa.Refresh)
	assert.EqualValues(t, 3600, soa.Retry)
	assert.EqualValues(t, 86400, soa.Expire)
	assert.EqualValues(t, 10, soa.Minttl)
}

func TestZoneNS(t *testing.T) {
	rrs := ZoneNS("mdns.home.arpa.")
	require.Len(t, rrs, 1)
	ns := rrs[0].(*dns.NS)
	assert.Equal(t, "mdns.home.arpa.", ns.Hdr.Name)
	assert.Equal(t, "discovery-proxy.local.", ns.Ns)
}

func TestDomainEnumeration(t *testing.T) {
	rrs := DomainEnumeration("b._dns-sd._udp.mdns.home.arpa.", "mdns.home.arpa.")
	require.Len(t, rrs, 1)
	ptr := rrs[0].(*dns.PTR)
	assert.Equal(t, "b._dns-sd._udp.mdns.home.arpa.", ptr.Hdr.Name)
	assert.Equal(t, "mdns.home.arpa.", ptr.Ptr)
}

func TestEmptyAnswers(t *testing.T) {
	assert.Empty(t, DelegationBelowApex())
	assert.Empty(t, NegativeSRV())
}
