package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

var errNXDomain = errors.New("NXDOMAIN")

// udpBackend sends plain A then AAAA queries to one recursive server.
type udpBackend struct {
	client *dns.Client
	server string
}

func newUDPBackend(server string, timeout time.Duration) *udpBackend {
	return &udpBackend{
		client: &dns.Client{Net: "udp", Timeout: timeout},
		server: server,
	}
}

func (b *udpBackend) name() string { return b.server }

func (b *udpBackend) lookup(ctx context.Context, host string) (int, error) {
	if ip := net.ParseIP(host); ip != nil {
		return familyOf([]net.IPAddr{{IP: ip}})
	}
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)

		resp, _, err := b.client.ExchangeContext(ctx, msg, b.server)
		if err != nil {
			return 0, fmt.Errorf("exchange %s: %w", dns.TypeToString[qtype], err)
		}
		switch resp.Rcode {
		case dns.RcodeSuccess:
		case dns.RcodeNameError:
			return 0, errNXDomain
		default:
			return 0, fmt.Errorf("dns rcode %s", dns.RcodeToString[resp.Rcode])
		}
		for _, rr := range resp.Answer {
			switch rr.(type) {
			case *dns.A:
				return 4, nil
			case *dns.AAAA:
				return 6, nil
			}
		}
	}
	return 0, errNoAddresses
}
