package mdns

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
	"github.com/rotisserie/eris"
)

// PlaybackService is the DNS-SD service type announced by playback servers.
const PlaybackService = "_meaviz._tcp"

// Host represents a discovered playback server.
type Host struct {
	Instance  string // Advertised name: "meaplayback on lab-pc"
	Hostname  string // DNS hostname: "lab-pc.local."
	Addresses []net.IP
	Port      int
	TXT       []string
}

// StreamInfo is the stream layout a server announces in its TXT records.
type StreamInfo struct {
	Channels      int
	SampleRate    int
	SegmentLength int
	Width         int
}

// Addr returns a dialable host:port, preferring IPv4.
func (h Host) Addr() string {
	var ip net.IP
	for _, a := range h.Addresses {
		if a.To4() != nil {
			ip = a
			break
		}
		if ip == nil {
			ip = a
		}
	}
	host := strings.TrimSuffix(h.Hostname, ".")
	if ip != nil {
		host = ip.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(h.Port))
}

// TXTValue returns the value of a key=value TXT record.
func (h Host) TXTValue(key string) (string, bool) {
	for _, kv := range h.TXT {
		k, v, ok := strings.Cut(kv, "=")
		if ok && k == key {
			return v, true
		}
	}
	return "", false
}

// Stream decodes the announced stream layout. Missing keys stay zero.
func (h Host) Stream() (StreamInfo, error) {
	var info StreamInfo
	fields := []struct {
		key string
		dst *int
	}{
		{"channels", &info.Channels},
		{"rate", &info.SampleRate},
		{"segment", &info.SegmentLength},
		{"width", &info.Width},
	}
	for _, f := range fields {
		v, ok := h.TXTValue(f.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return StreamInfo{}, eris.Wrapf(err, "txt record %s", f.key)
		}
		*f.dst = n
	}
	return info, nil
}

// DiscoverPlayback browses for playback servers until ctx is done.
func DiscoverPlayback(ctx context.Context) ([]Host, error) {
	return Discover(ctx, PlaybackService)
}

// Discover performs a blocking mDNS browse for service in the local. domain
// until ctx is done. It returns cleaned and deduplicated host entries sorted
// by instance name.
func Discover(ctx context.Context, service string) ([]Host, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, eris.Wrap(err, "resolver error")
	}

	entries := make(chan *zeroconf.ServiceEntry)
	resultMap := make(map[string]Host)

	// Consumer goroutine
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				// Consolidate IPs (both v4 and v6)
				addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
				addrs = append(addrs, e.AddrIPv4...)
				addrs = append(addrs, e.AddrIPv6...)

				key := fmt.Sprintf("%s|%d", e.HostName, e.Port)
				resultMap[key] = Host{
					Instance:  cleanInstance(e.Instance),
					Hostname:  e.HostName,
					Addresses: addrs,
					Port:      e.Port,
					TXT:       append([]string{}, e.Text...),
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
		return nil, eris.Wrap(err, "browse error")
	}

	<-done

	out := make([]Host, 0, len(resultMap))
	for _, h := range resultMap {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out, nil
}

// cleanInstance removes Zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
