package playback

import (
	"net"

	"github.com/grandcat/zeroconf"
	"github.com/rotisserie/eris"

	"github.com/rjboer/meaviz/internal/mdns"
)

// ServiceType is the DNS-SD service playback servers announce.
const ServiceType = mdns.PlaybackService

// Advertise announces a listening server on the local network. The caller
// must Shutdown the returned server when it stops listening.
func Advertise(instance string, addr net.Addr, txt []string) (*zeroconf.Server, error) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, eris.Errorf("cannot advertise non-TCP address %v", addr)
	}
	srv, err := zeroconf.Register(instance, ServiceType, "local.", tcp.Port, txt, nil)
	if err != nil {
		return nil, eris.Wrap(err, "zeroconf register")
	}
	return srv, nil
}
