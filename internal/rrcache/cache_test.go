package rrcache

import (
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	require.NoError(t, err)
	return rr
}

func TestCacheRoundTrip(t *testing.T) {
	c := New(time.Minute)
	key := NewKey("printer.mdns.home.arpa.", dns.TypeA)
	records := []dns.RR{mustRR(t, "printer.mdns.home.arpa. 10 IN A 192.0.2.17")}

	c.Insert(key, records)

	got, ok := c.Get(key)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, records[0].String(), got[0].String())
}

func TestCacheKeyIsCaseInsensitiveOnOwner(t *testing.T) {
	c := New(time.Minute)
	c.Insert(NewKey("Printer.MDNS.Home.Arpa.", dns.TypeA), []dns.RR{mustRR(t, "printer.mdns.home.arpa. 10 IN A 192.0.2.17")})

	_, ok := c.Get(NewKey("printer.mdns.home.arpa.", dns.TypeA))
	assert.True(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	c := New(10 * time.Millisecond)
	key := NewKey("printer.mdns.home.arpa.", dns.TypeA)
	c.Insert(key, []dns.RR{mustRR(t, "printer.mdns.home.arpa. 10 IN A 192.0.2.17")})

	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestCacheZeroTTLDisables(t *testing.T) {
	c := New(0)
	key := NewKey("printer.mdns.home.arpa.", dns.TypeA)
	c.Insert(key, []dns.RR{mustRR(t, "printer.mdns.home.arpa. 10 IN A 192.0.2.17")})

	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestCacheEmptySetIsCacheable(t *testing.T) {
	c := New(time.Minute)
	key := NewKey("_http._tcp.mdns.home.arpa.", dns.TypePTR)
	c.Insert(key, nil)

	got, ok := c.Get(key)
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestCacheInsertPrunesStaleEntriesAcrossKeys(t *testing.T) {
	c := New(5 * time.Millisecond)
	k1 := NewKey("a.mdns.home.arpa.", dns.TypeA)
	k2 := NewKey("b.mdns.home.arpa.", dns.TypeA)

	c.Insert(k1, []dns.RR{mustRR(t, "a.mdns.home.arpa. 10 IN A 192.0.2.1")})
	time.Sleep(10 * time.Millisecond)
	c.Insert(k2, []dns.RR{mustRR(t, "b.mdns.home.arpa. 10 IN A 192.0.2.2")})

	assert.Equal(t, 1, c.Stats().Entries)
}

func TestCacheConcurrentReadsDoNotBlock(t *testing.T) {
	c := New(time.Minute)
	key := NewKey("printer.mdns.home.arpa.", dns.TypeA)
	c.Insert(key, []dns.RR{mustRR(t, "printer.mdns.home.arpa. 10 IN A 192.0.2.17")})

	done := make(chan struct{})
	for i := 0; i < 50; i++ {
		go func() {
			_, _ = c.Get(key)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 50; i++ {
		<-done
	}
}
