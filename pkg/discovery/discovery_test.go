package discovery

import (
	"net"
	"reflect"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestEntryAddress(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		want  string
	}{
		{
			name:  "prefers ipv4",
			entry: Entry{Port: 9191, Addrs: []net.IP{net.ParseIP("fe80::1"), net.ParseIP("192.168.1.20")}},
			want:  "192.168.1.20:9191",
		},
		{
			name:  "ipv6 only",
			entry: Entry{Port: 9191, Addrs: []net.IP{net.ParseIP("fe80::1")}},
			want:  "[fe80::1]:9191",
		},
		{
			name:  "host name fallback",
			entry: Entry{Host: "dm-laptop.local.", Port: 9000},
			want:  "dm-laptop.local:9000",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.Address(); got != tt.want {
				t.Errorf("Address() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestText(t *testing.T) {
	records := EncodeText(map[string]string{"version": "1", "campaign": "Lost Mine"})
	if want := []string{"campaign=Lost Mine", "version=1"}; !reflect.DeepEqual(records, want) {
		t.Errorf("EncodeText() = %v, want %v", records, want)
	}

	got := DecodeText(append(records, "flag", "=orphan"))
	want := map[string]string{"campaign": "Lost Mine", "version": "1", "flag": ""}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DecodeText() = %v, want %v", got, want)
	}
	if DecodeText(nil) != nil {
		t.Error("DecodeText(nil) should be nil")
	}
}

func TestFromServiceEntry(t *testing.T) {
	se := zeroconf.NewServiceEntry("dm", Service, Domain)
	se.HostName = "dm.local."
	se.Port = 9191
	se.AddrIPv4 = []net.IP{net.ParseIP("10.0.0.5")}
	se.Text = []string{"campaign=Lost Mine"}

	e := fromServiceEntry(se)
	if e.Instance != "dm" || e.Port != 9191 || e.Campaign() != "Lost Mine" {
		t.Errorf("entry = %+v", e)
	}
	if got := e.Address(); got != "10.0.0.5:9191" {
		t.Errorf("Address() = %q", got)
	}
}

func TestCollectSorted(t *testing.T) {
	got := collect(map[string]Entry{
		"b": {Instance: "b"},
		"a": {Instance: "a"},
	})
	if len(got) != 2 || got[0].Instance != "a" || got[1].Instance != "b" {
		t.Errorf("collect() = %+v", got)
	}
}

func TestAdvertiseValidation(t *testing.T) {
	if _, err := Advertise("dm", 0, nil); err == nil {
		t.Error("Advertise(port 0) should fail")
	}
	var a *Advertisement
	a.Shutdown()
}
