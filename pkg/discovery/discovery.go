// Package discovery advertises and finds dfsync servers on the local network
// over mDNS.
//
// A DM's server registers itself as an instance of the _dfsync._tcp service;
// players browse for it instead of typing an address.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// Service is the mDNS service type.
	Service = "_dfsync._tcp"

	// Domain is the mDNS browse domain.
	Domain = "local."

	// DefaultBrowseTimeout bounds Browse when the context has no deadline.
	DefaultBrowseTimeout = 3 * time.Second
)

// ErrNoServers is returned by Find when browsing produced no entries.
var ErrNoServers = errors.New("discovery: no servers found")

// Entry is one discovered server.
type Entry struct {
	Instance string            `json:"instance"`
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	Addrs    []net.IP          `json:"addrs"`
	Text     map[string]string `json:"text,omitempty"`
}

// Address returns host:port for the preferred address: the first IPv4
// address, then the first IPv6 one, then the advertised host name.
func (e Entry) Address() string {
	var host string
	for _, ip := range e.Addrs {
		if ip.To4() != nil {
			host = ip.String()
			break
		}
	}
	if host == "" && len(e.Addrs) > 0 {
		host = e.Addrs[0].String()
	}
	if host == "" {
		host = strings.TrimSuffix(e.Host, ".")
	}
	return net.JoinHostPort(host, strconv.Itoa(e.Port))
}

// Campaign returns the campaign name from the TXT record, if any.
func (e Entry) Campaign() string {
	return e.Text["campaign"]
}

// Advertisement is a live mDNS registration.
type Advertisement struct {
	server *zeroconf.Server
	logger *slog.Logger
}

// Advertise registers instance on port. text is published as key=value TXT
// records. Call Shutdown to withdraw it.
func Advertise(instance string, port int, text map[string]string) (*Advertisement, error) {
	if instance == "" {
		host, _ := os.Hostname()
		instance = "dfsync-" + host
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("discovery: invalid port %d", port)
	}

	server, err := zeroconf.Register(instance, Service, Domain, port, EncodeText(text), nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: register %s: %w", instance, err)
	}

	logger := slog.Default().With("component", "discovery")
	logger.Info("advertising", "instance", instance, "service", Service, "port", port)
	return &Advertisement{server: server, logger: logger}, nil
}

// Shutdown withdraws the registration. It is safe to call on nil.
func (a *Advertisement) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	a.logger.Info("advertisement withdrawn")
}

// Browse collects servers until ctx is done. Without a deadline on ctx it
// stops after DefaultBrowseTimeout. Entries are sorted by instance name.
func Browse(ctx context.Context) ([]Entry, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultBrowseTimeout)
		defer cancel()
	}

	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return nil, fmt.Errorf("discovery: resolver: %w", err)
	}

	results := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, Service, Domain, results); err != nil {
		return nil, fmt.Errorf("discovery: browse: %w", err)
	}

	seen := make(map[string]Entry)
	for {
		select {
		case se, ok := <-results:
			if !ok {
				return collect(seen), nil
			}
			if se == nil {
				continue
			}
			e := fromServiceEntry(se)
			seen[e.Instance] = e
		case <-ctx.Done():
			return collect(seen), nil
		}
	}
}

// Find browses and returns the first server, optionally matching campaign.
func Find(ctx context.Context, campaign string) (Entry, error) {
	entries, err := Browse(ctx)
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if campaign == "" || strings.EqualFold(e.Campaign(), campaign) {
			return e, nil
		}
	}
	return Entry{}, ErrNoServers
}

func fromServiceEntry(se *zeroconf.ServiceEntry) Entry {
	addrs := make([]net.IP, 0, len(se.AddrIPv4)+len(se.AddrIPv6))
	addrs = append(addrs, se.AddrIPv4...)
	addrs = append(addrs, se.AddrIPv6...)
	return Entry{
		Instance: se.Instance,
		Host:     se.HostName,
		Port:     se.Port,
		Addrs:    addrs,
		Text:     DecodeText(se.Text),
	}
}

func collect(seen map[string]Entry) []Entry {
	out := make([]Entry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}

// EncodeText renders TXT records as sorted key=value strings.
func EncodeText(text map[string]string) []string {
	out := make([]string, 0, len(text))
	for k, v := range text {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// DecodeText parses key=value TXT records. A record without '=' is a key with
// an empty value.
func DecodeText(records []string) map[string]string {
	if len(records) == 0 {
		return nil
	}
	out := make(map[string]string, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		if k != "" {
			out[k] = v
		}
	}
	return out
}
