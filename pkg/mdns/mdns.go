// Package mdns is a minimal multicast DNS responder for DNS-SD services.
package mdns

import (
	"net"
	"sort"
	"strings"

	"github.com/miekg/dns"
)

const (
	ServiceHAP   = "_hap._tcp.local."            // HomeKit Accessory Protocol
	ServiceDNSSD = "_services._dns-sd._udp.local." // service type enumeration
)

// ClassCacheFlush https://datatracker.ietf.org/doc/html/rfc6762#section-10.2
const ClassCacheFlush = 0x8001

const (
	ttlPTR = 4500
	ttlSRV = 120
)

var MulticastAddr = &net.UDPAddr{
	IP:   net.IP{224, 0, 0, 251},
	Port: 5353,
}

type ServiceEntry struct {
	Name string            `json:"name,omitempty"`
	IP   net.IP            `json:"ip,omitempty"`
	Port uint16            `json:"port,omitempty"`
	Info map[string]string `json:"info,omitempty"`
}

// TXT returns "key=value" strings sorted by key
func (e *ServiceEntry) TXT() []string {
	txt := make([]string, 0, len(e.Info))
	for k, v := range e.Info {
		txt = append(txt, k+"="+v)
	}
	sort.Strings(txt)
	return txt
}

// Instance returns escaped service instance name: "My\ Bridge._hap._tcp.local."
func (e *ServiceEntry) Instance(service string) string {
	return strings.ReplaceAll(e.Name, " ", `\ `) + "." + service
}

// Host returns the target host for SRV record, only letters and digits are kept
func (e *ServiceEntry) Host() string {
	b := []byte(e.Name)
	for i, c := range b {
		if 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' {
			continue
		}
		b[i] = '-'
	}
	return string(b) + ".local."
}

// NewServiceEntries parses PTR/TXT/SRV/A records of the service from a response
func NewServiceEntries(msg *dns.Msg, service string) (entries []*ServiceEntry) {
	records := make([]dns.RR, 0, len(msg.Answer)+len(msg.Ns)+len(msg.Extra))
	records = append(records, msg.Answer...)
	records = append(records, msg.Ns...)
	records = append(records, msg.Extra...)

	for _, record := range records {
		ptr, ok := record.(*dns.PTR)
		if !ok || ptr.Hdr.Name != service {
			continue
		}

		entry := &ServiceEntry{}

		if i := strings.Index(ptr.Ptr, "."+service); i > 0 {
			entry.Name = strings.ReplaceAll(ptr.Ptr[:i], `\ `, " ")
		}

		for _, rr := range records {
			switch rr := rr.(type) {
			case *dns.TXT:
				if rr.Hdr.Name != ptr.Ptr {
					continue
				}
				entry.Info = make(map[string]string, len(rr.Txt))
				for _, s := range rr.Txt {
					k, v, _ := strings.Cut(s, "=")
					entry.Info[k] = v
				}
			case *dns.SRV:
				if rr.Hdr.Name != ptr.Ptr {
					continue
				}
				entry.Port = rr.Port
				for _, a := range records {
					if a, ok := a.(*dns.A); ok && a.Hdr.Name == rr.Target && entry.IP == nil {
						entry.IP = a.A
					}
				}
			}
		}

		entries = append(entries, entry)
	}

	return
}

// Interfaces returns first IPv4 network of every running non loopback interface
func Interfaces() ([]*net.IPNet, error) {
	intfs, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var nets []*net.IPNet

loop:
	for _, intf := range intfs {
		if intf.Flags&net.FlagUp == 0 || intf.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := intf.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if v, ok := addr.(*net.IPNet); ok {
				if ip := v.IP.To4(); ip != nil {
					nets = append(nets, &net.IPNet{IP: ip, Mask: v.Mask})
					continue loop
				}
			}
		}
	}

	return nets, nil
}
