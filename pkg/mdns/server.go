package mdns

import (
	"context"
	"errors"
	"net"
	"sync"
	"syscall"

	"github.com/miekg/dns"
)

// Browser answers queries for the service on the multicast group
type Browser struct {
	Service string

	Recv  net.PacketConn
	Sends []net.PacketConn
	Nets  []*net.IPNet

	mu      sync.Mutex
	entries []*ServiceEntry
}

// ListenMulticastUDP creates one sender socket per IPv4 interface and one
// receiver with multicast membership on each of them.
func (b *Browser) ListenMulticastUDP() error {
	nets, err := Interfaces()
	if err != nil {
		return err
	}

	lc1 := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = setsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
		},
	}

	ctx := context.Background()

	for _, ipn := range nets {
		conn, err := lc1.ListenPacket(ctx, "udp4", ipn.IP.String()+":5353") // same port important
		if err != nil {
			continue
		}
		b.Sends = append(b.Sends, conn)
		b.Nets = append(b.Nets, ipn)
	}

	if b.Sends == nil {
		return errors.New("mdns: no interfaces for listen")
	}

	lc2 := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = setsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)

				// own answers are not needed
				_ = setsockoptInt(fd, syscall.IPPROTO_IP, syscall.IP_MULTICAST_LOOP, 0)

				mreq := &syscall.IPMreq{
					Multiaddr: [4]byte{224, 0, 0, 251},
				}
				_ = setsockoptIPMreq(fd, syscall.IPPROTO_IP, syscall.IP_ADD_MEMBERSHIP, mreq)

				for _, ipn := range b.Nets {
					mreq.Interface = [4]byte(ipn.IP.To4())
					_ = setsockoptIPMreq(fd, syscall.IPPROTO_IP, syscall.IP_ADD_MEMBERSHIP, mreq)
				}
			})
		},
	}

	b.Recv, err = lc2.ListenPacket(ctx, "udp4", "0.0.0.0:5353")

	return err
}

// Update replaces advertised entries and announces them on every interface.
// Controllers refresh cached TXT records (c#, sf) on the announce.
func (b *Browser) Update(entries []*ServiceEntry) {
	b.mu.Lock()
	b.entries = entries
	b.mu.Unlock()

	for i, send := range b.Sends {
		res := NewAnnounce(entries, b.Service, b.Nets[i].IP)
		if data, err := res.Pack(); err == nil {
			_, _ = send.WriteTo(data, MulticastAddr)
		}
	}
}

func (b *Browser) Entries() []*ServiceEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries
}

// Serve reads queries until the receiver is closed
func (b *Browser) Serve() error {
	buf := make([]byte, 1500)
	for {
		n, addr, err := b.Recv.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		var req dns.Msg
		if err = req.Unpack(buf[:n]); err != nil {
			continue
		}

		// skip responses and messages without questions
		if req.Response || req.Question == nil {
			continue
		}

		localIP := b.MatchLocalIP(addr.(*net.UDPAddr).IP)

		// skip messages from unknown networks (can be docker network)
		if localIP == nil {
			continue
		}

		res := NewResponse(req.Question, b.Entries(), b.Service, localIP)
		if res == nil {
			continue
		}

		data, err := res.Pack()
		if err != nil {
			continue
		}

		for _, send := range b.Sends {
			_, _ = send.WriteTo(data, MulticastAddr)
		}
	}
}

func (b *Browser) MatchLocalIP(remote net.IP) net.IP {
	for _, ipn := range b.Nets {
		if ipn.Contains(remote) {
			return ipn.IP
		}
	}
	return nil
}

func (b *Browser) Close() error {
	if b.Recv != nil {
		_ = b.Recv.Close()
	}
	for _, send := range b.Sends {
		_ = send.Close()
	}
	return nil
}

// NewResponse answers PTR queries: service enumeration, service type or
// one of the instances. Returns nil when nothing matches.
func NewResponse(questions []dns.Question, entries []*ServiceEntry, service string, ip net.IP) *dns.Msg {
	res := &dns.Msg{}

	for _, q := range questions {
		if q.Qtype != dns.TypePTR && q.Qtype != dns.TypeANY {
			continue
		}

		// unicast-response bit is ignored, answers always go to the group
		if q.Qclass&0x7FFF != dns.ClassINET {
			continue
		}

		switch q.Name {
		case ServiceDNSSD:
			AppendDNSSD(res, service)
		case service:
			for _, entry := range entries {
				AppendEntry(res, entry, service, ip)
			}
		default:
			for _, entry := range entries {
				if dns.CanonicalName(entry.Instance(service)) == dns.CanonicalName(q.Name) {
					AppendEntry(res, entry, service, ip)
				}
			}
		}
	}

	if res.Answer == nil {
		return nil
	}

	res.Response = true
	res.Authoritative = true
	return res
}

// NewAnnounce is unsolicited response with all entries
func NewAnnounce(entries []*ServiceEntry, service string, ip net.IP) *dns.Msg {
	res := &dns.Msg{}
	res.Response = true
	res.Authoritative = true
	for _, entry := range entries {
		AppendEntry(res, entry, service, ip)
	}
	return res
}

func AppendDNSSD(msg *dns.Msg, service string) {
	msg.Answer = append(
		msg.Answer,
		&dns.PTR{
			Hdr: dns.RR_Header{
				Name:   ServiceDNSSD,  // _services._dns-sd._udp.local.
				Rrtype: dns.TypePTR,   // 12
				Class:  dns.ClassINET, // 1
				Ttl:    ttlPTR,
			},
			Ptr: service, // _hap._tcp.local.
		},
	)
}

func AppendEntry(msg *dns.Msg, entry *ServiceEntry, service string, ip net.IP) {
	ptrName := entry.Instance(service)
	srvName := entry.Host()

	if entry.IP != nil {
		ip = entry.IP
	}

	msg.Answer = append(
		msg.Answer,
		&dns.PTR{
			Hdr: dns.RR_Header{
				Name:   service,       // _hap._tcp.local.
				Rrtype: dns.TypePTR,   // 12
				Class:  dns.ClassINET, // 1
				Ttl:    ttlPTR,
			},
			Ptr: ptrName, // FastyBird\ Bridge._hap._tcp.local.
		},
	)
	msg.Extra = append(
		msg.Extra,
		&dns.TXT{
			Hdr: dns.RR_Header{
				Name:   ptrName,
				Rrtype: dns.TypeTXT,     // 16
				Class:  ClassCacheFlush, // 32769
				Ttl:    ttlPTR,
			},
			Txt: entry.TXT(),
		},
		&dns.SRV{
			Hdr: dns.RR_Header{
				Name:   ptrName,
				Rrtype: dns.TypeSRV,     // 33
				Class:  ClassCacheFlush, // 32769
				Ttl:    ttlSRV,
			},
			Port:   entry.Port, // 51827
			Target: srvName,    // FastyBird-Bridge.local.
		},
		&dns.A{
			Hdr: dns.RR_Header{
				Name:   srvName,
				Rrtype: dns.TypeA,       // 1
				Class:  ClassCacheFlush, // 32769
				Ttl:    ttlSRV,
			},
			A: ip.To4(),
		},
	)
}
