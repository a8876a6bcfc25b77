package resolver

import (
	"context"
	"net"
)

// systemBackend uses the platform resolver (/etc/hosts, nsswitch, cgo or the
// pure Go stub depending on the build).
type systemBackend struct {
	resolver *net.Resolver
}

func (systemBackend) name() string { return "system" }

func (b systemBackend) lookup(ctx context.Context, host string) (int, error) {
	addrs, err := b.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return 0, err
	}
	return familyOf(addrs)
}

func familyOf(addrs []net.IPAddr) (int, error) {
	if len(addrs) == 0 {
		return 0, errNoAddresses
	}
	for _, addr := range addrs {
		if addr.IP.To4() != nil {
			return 4, nil
		}
	}
	return 6, nil
}
