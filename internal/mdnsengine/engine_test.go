package mdnsengine

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuafuller/beacon/querier"

	"github.com/mdns-discovery-proxy/proxy/internal/proxyerr"
)

// fakeDaemon is a scripted Daemon: each call to Query consumes the next
// queued response (or error) for the given record type, looping the last
// entry once the queue is exhausted. It lets the engine's polling logic be
// exercised without opening real multicast sockets.
type fakeDaemon struct {
	mu    sync.Mutex
	calls int
	queue map[querier.RecordType][]scripted
}

type scripted struct {
	resp *querier.Response
	err  error
}

func newFakeDaemon() *fakeDaemon {
	return &fakeDaemon{queue: map[querier.RecordType][]scripted{}}
}

func (f *fakeDaemon) script(rtype querier.RecordType, s ...scripted) {
	f.queue[rtype] = append(f.queue[rtype], s...)
}

func (f *fakeDaemon) Query(ctx context.Context, name string, rtype querier.RecordType) (*querier.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	q := f.queue[rtype]
	if len(q) == 0 {
		return &querier.Response{}, nil
	}
	next := q[0]
	if len(q) > 1 {
		f.queue[rtype] = q[1:]
	}
	return next.resp, next.err
}

func testTimeouts() Timeouts {
	return Timeouts{
		ServiceQueryTimeout:       40 * time.Millisecond,
		ServicePollInterval:       10 * time.Millisecond,
		HostnameResolutionTimeout: 50 * time.Millisecond,
	}
}

func TestResolveAddressBuildsARecord(t *testing.T) {
	daemon := newFakeDaemon()
	daemon.script(querier.RecordTypeA, scripted{resp: &querier.Response{Records: []querier.ResourceRecord{
		{Name: "printer.local", Type: querier.RecordTypeA, Data: net.ParseIP("192.0.2.5").To4()},
	}}})

	e := New(daemon, testTimeouts(), nil)
	rrs, err := e.Resolve(context.Background(), "printer.local.", dns.TypeA)
	require.NoError(t, err)
	require.Len(t, rrs, 1)
	a := rrs[0].(*dns.A)
	assert.Equal(t, "printer.local.", a.Hdr.Name)
	assert.Equal(t, net.ParseIP("192.0.2.5").To4(), a.A)
}

func TestResolveAddressRejectsNonLocalNames(t *testing.T) {
	daemon := newFakeDaemon()
	e := New(daemon, testTimeouts(), nil)

	rrs, err := e.Resolve(context.Background(), "printer.mdns.home.arpa.", dns.TypeA)
	require.NoError(t, err)
	assert.Empty(t, rrs)
	assert.Equal(t, 0, daemon.calls, "a non-local name must never reach the mdns daemon")
}

func TestResolveAddressLookupFailure(t *testing.T) {
	daemon := newFakeDaemon()
	daemon.script(querier.RecordTypeA, scripted{err: assertError{}})

	e := New(daemon, testTimeouts(), nil)
	_, err := e.Resolve(context.Background(), "printer.local.", dns.TypeA)
	require.Error(t, err)
	assert.ErrorIs(t, err, proxyerr.ErrLookupFailure)
}

type assertError struct{}

func (assertError) Error() string { return "simulated transport failure" }

func TestBrowseServiceTypeDedupsInstances(t *testing.T) {
	daemon := newFakeDaemon()
	daemon.script(querier.RecordTypePTR,
		scripted{resp: &querier.Response{Records: []querier.ResourceRecord{
			{Name: "_http._tcp.local", Type: querier.RecordTypePTR, Data: "webserver._http._tcp.local"},
		}}},
		scripted{resp: &querier.Response{Records: []querier.ResourceRecord{
			{Name: "_http._tcp.local", Type: querier.RecordTypePTR, Data: "webserver._http._tcp.local"},
			{Name: "_http._tcp.local", Type: querier.RecordTypePTR, Data: "printer._http._tcp.local"},
		}}},
	)

	e := New(daemon, testTimeouts(), nil)
	rrs, err := e.Resolve(context.Background(), "_http._tcp.local.", dns.TypePTR)
	require.NoError(t, err)

	var targets []string
	for _, rr := range rrs {
		targets = append(targets, rr.(*dns.PTR).Ptr)
	}
	assert.ElementsMatch(t, []string{"webserver._http._tcp.local.", "printer._http._tcp.local."}, targets)
}

func TestResolveInstanceSRVOverridesPriorityAndWeight(t *testing.T) {
	daemon := newFakeDaemon()
	daemon.script(querier.RecordTypeSRV, scripted{resp: &querier.Response{Records: []querier.ResourceRecord{
		{
			Name: "webserver._http._tcp.local",
			Type: querier.RecordTypeSRV,
			Data: querier.SRVData{Target: "webserver.local", Priority: 5, Weight: 7, Port: 8080},
		},
	}}})

	e := New(daemon, testTimeouts(), nil)
	rrs, err := e.Resolve(context.Background(), "webserver._http._tcp.local.", dns.TypeSRV)
	require.NoError(t, err)
	require.Len(t, rrs, 1)

	srv := rrs[0].(*dns.SRV)
	assert.EqualValues(t, 0, srv.Priority)
	assert.EqualValues(t, 0, srv.Weight)
	assert.EqualValues(t, 8080, srv.Port)
	assert.Equal(t, "webserver.local.", srv.Target)
}

func TestResolveInstanceRejectsShortNames(t *testing.T) {
	daemon := newFakeDaemon()
	e := New(daemon, testTimeouts(), nil)

	rrs, err := e.Resolve(context.Background(), "_tcp.local.", dns.TypeSRV)
	require.NoError(t, err)
	assert.Empty(t, rrs)
	assert.Equal(t, 0, daemon.calls)
}

func TestResolveInstanceTXT(t *testing.T) {
	daemon := newFakeDaemon()
	daemon.script(querier.RecordTypeTXT, scripted{resp: &querier.Response{Records: []querier.ResourceRecord{
		{Name: "webserver._http._tcp.local", Type: querier.RecordTypeTXT, Data: []string{"path=/", "version=1.0"}},
	}}})

	e := New(daemon, testTimeouts(), nil)
	rrs, err := e.Resolve(context.Background(), "webserver._http._tcp.local.", dns.TypeTXT)
	require.NoError(t, err)
	require.Len(t, rrs, 1)
	assert.Equal(t, []string{"path=/", "version=1.0"}, rrs[0].(*dns.TXT).Txt)
}

func TestUnsupportedTypeReturnsNilWithoutError(t *testing.T) {
	daemon := newFakeDaemon()
	e := New(daemon, testTimeouts(), nil)

	rrs, err := e.Resolve(context.Background(), "mdns.home.arpa.", dns.TypeSOA)
	require.NoError(t, err)
	assert.Nil(t, rrs)
}
