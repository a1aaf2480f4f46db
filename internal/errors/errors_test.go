package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"testing"

	"github.com/dungeonfaster/dfsync/pkg/campaign"
	"github.com/dungeonfaster/dfsync/pkg/client"
	"github.com/dungeonfaster/dfsync/pkg/protocol"
)

func TestNew(t *testing.T) {
	e := New("E201")
	if e.Category != CategoryNetwork || e.Message != "Rejected by server" || e.Suggestion == "" {
		t.Errorf("New(E201) = %+v", e)
	}

	unknown := New("E999")
	if unknown.Message != "Unknown error" {
		t.Errorf("New(E999).Message = %q", unknown.Message)
	}
}

func TestErrorString(t *testing.T) {
	cause := fmt.Errorf("boom")
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"coded", New("E202"), "E202: Connection lost"},
		{"wrapped", New("E202").Wrap(cause), "E202: Connection lost: boom"},
		{"uncoded", Newf(CategoryCLI, "bad flag %q", "--x"), `bad flag "--x"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	e := New("E201").Wrap(client.ErrRejected)
	if !stderrors.Is(e, client.ErrRejected) {
		t.Error("errors.Is through Error failed")
	}
	if got := FromError(e, "E100"); got != e {
		t.Error("FromError should return an existing Error unchanged")
	}
	if FromError(nil, "E100") != nil {
		t.Error("FromError(nil) should be nil")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"rejected", fmt.Errorf("join: %w", client.ErrRejected), "E201"},
		{"snapshot mode", fmt.Errorf("%w: %q", protocol.ErrUnknownSnapshotMode, "zip"), "E110"},
		{"duplicate", campaign.ErrDuplicatePlayer, "E302"},
		{"invalid doc", fmt.Errorf("%w: eof", campaign.ErrInvalidDocument), "E301"},
		{"file", &client.FileError{Path: "a.png", Err: client.ErrFileNotFound}, "E402"},
		{"addr in use", &net.OpError{Op: "listen", Err: syscall.EADDRINUSE}, "E203"},
		{"dial", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, "E200"},
		{"peer closed", protocol.ErrPeerClosed, "E202"},
		{"other", fmt.Errorf("something else"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Code != tt.code {
				t.Errorf("Classify() code = %q, want %q", got.Code, tt.code)
			}
		})
	}
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestFormat(t *testing.T) {
	DisableColors()
	defer EnableColors()

	out := New("E201").WithDetail("Mallory is not in the party.").Wrap(client.ErrRejected).Format()
	for _, want := range []string{
		"ERROR E201: Rejected by server",
		"Mallory is not in the party.",
		"Cause: client: rejected by server",
		"Hint: Check the spelling",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Format() missing %q:\n%s", want, out)
		}
	}
}

func TestFormatJSON(t *testing.T) {
	var v map[string]string
	if err := json.Unmarshal([]byte(New("E204").FormatJSON()), &v); err != nil {
		t.Fatal(err)
	}
	if v["code"] != "E204" || v["category"] != "network" {
		t.Errorf("FormatJSON() = %v", v)
	}
}

func TestWrapText(t *testing.T) {
	lines := wrapText("one two three four five six seven", 10)
	for _, l := range lines {
		if len(l) > 10 {
			t.Errorf("line %q longer than 10", l)
		}
	}
	if strings.Join(lines, " ") != "one two three four five six seven" {
		t.Errorf("wrapText lost words: %v", lines)
	}
}

func TestRegistryCodesSorted(t *testing.T) {
	codes := GetAllCodes()
	for i := 1; i < len(codes); i++ {
		if codes[i-1] >= codes[i] {
			t.Fatalf("codes not sorted: %v", codes)
		}
	}
	Register("E999", ErrorTemplate{Category: CategoryCLI, Message: "test"})
	defer delete(registry, "E999")
	if tmpl, ok := GetTemplate("E999"); !ok || tmpl.Message != "test" {
		t.Error("Register did not add template")
	}
}
