package mdns

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func testEntry() *ServiceEntry {
	return &ServiceEntry{
		Name: "FastyBird Bridge",
		Port: 51827,
		Info: map[string]string{
			"c#": "2", "ff": "0", "id": "46:D2:5E:F2:FE:1A", "md": "FastyBird Bridge",
			"pv": "1.1", "s#": "1", "sf": "1", "ci": "2", "sh": "H+H9yg==",
		},
	}
}

func TestServiceEntry(t *testing.T) {
	entry := testEntry()
	require.Equal(t, `FastyBird\ Bridge._hap._tcp.local.`, entry.Instance(ServiceHAP))
	require.Equal(t, "FastyBird-Bridge.local.", entry.Host())
	require.Equal(t, []string{
		"c#=2", "ci=2", "ff=0", "id=46:D2:5E:F2:FE:1A", "md=FastyBird Bridge",
		"pv=1.1", "s#=1", "sf=1", "sh=H+H9yg==",
	}, entry.TXT())
}

func TestNewResponse(t *testing.T) {
	ip := net.IP{192, 168, 1, 10}
	entries := []*ServiceEntry{testEntry()}

	q := func(name string) []dns.Question {
		return []dns.Question{{Name: name, Qtype: dns.TypePTR, Qclass: dns.ClassINET}}
	}

	// service enumeration
	res := NewResponse(q(ServiceDNSSD), entries, ServiceHAP, ip)
	require.NotNil(t, res)
	require.Len(t, res.Answer, 1)
	require.Equal(t, ServiceHAP, res.Answer[0].(*dns.PTR).Ptr)

	// unknown service
	require.Nil(t, NewResponse(q("_airplay._tcp.local."), entries, ServiceHAP, ip))

	// other record types
	require.Nil(t, NewResponse([]dns.Question{{Name: ServiceHAP, Qtype: dns.TypeAAAA, Qclass: dns.ClassINET}}, entries, ServiceHAP, ip))

	for _, name := range []string{ServiceHAP, `FastyBird\ Bridge._hap._tcp.local.`} {
		res = NewResponse(q(name), entries, ServiceHAP, ip)
		require.NotNil(t, res)
		require.True(t, res.Response)
		require.True(t, res.Authoritative)
		require.Len(t, res.Answer, 1)
		require.Len(t, res.Extra, 3)

		// records survive the wire
		data, err := res.Pack()
		require.Nil(t, err)

		var msg dns.Msg
		require.Nil(t, msg.Unpack(data))

		parsed := NewServiceEntries(&msg, ServiceHAP)
		require.Len(t, parsed, 1)
		require.Equal(t, "FastyBird Bridge", parsed[0].Name)
		require.Equal(t, uint16(51827), parsed[0].Port)
		require.True(t, ip.Equal(parsed[0].IP))
		require.Equal(t, entries[0].Info, parsed[0].Info)

		srv := msg.Extra[1].(*dns.SRV)
		require.Equal(t, uint16(ClassCacheFlush), srv.Hdr.Class)
		require.Equal(t, "FastyBird-Bridge.local.", srv.Target)
	}
}

func TestNewAnnounce(t *testing.T) {
	entry := testEntry()
	entry.Info["sf"] = "0"
	entry.Info["c#"] = "3"

	res := NewAnnounce([]*ServiceEntry{entry}, ServiceHAP, net.IP{10, 0, 0, 2})
	require.True(t, res.Response)
	require.Len(t, res.Answer, 1)

	txt := res.Extra[0].(*dns.TXT)
	require.Contains(t, txt.Txt, "sf=0")
	require.Contains(t, txt.Txt, "c#=3")
	require.Equal(t, "10.0.0.2", res.Extra[2].(*dns.A).A.String())
}

func TestMatchLocalIP(t *testing.T) {
	_, ipn, err := net.ParseCIDR("192.168.1.0/24")
	require.Nil(t, err)
	ipn.IP = net.IP{192, 168, 1, 10}

	b := &Browser{Nets: []*net.IPNet{ipn}}
	require.Equal(t, "192.168.1.10", b.MatchLocalIP(net.IP{192, 168, 1, 55}).String())
	require.Nil(t, b.MatchLocalIP(net.IP{172, 17, 0, 2}))
}
