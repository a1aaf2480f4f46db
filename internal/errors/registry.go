package errors

import (
	stderrors "errors"
	"net"
	"sort"
	"syscall"

	"github.com/dungeonfaster/dfsync/pkg/campaign"
	"github.com/dungeonfaster/dfsync/pkg/client"
	"github.com/dungeonfaster/dfsync/pkg/discovery"
	"github.com/dungeonfaster/dfsync/pkg/protocol"
)

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// Configuration (E100-E199)

	"E100": {
		Category: CategoryConfig,
		Message:  "Invalid configuration",
		Detail:   "A setting from flags, DFSYNC_* environment variables or dfsync.json is out of range.",
	},
	"E101": {
		Category:   CategoryConfig,
		Message:    "Cannot read config file",
		Suggestion: "Pass --config with the path to dfsync.json, or omit it to use defaults.",
	},
	"E102": {
		Category: CategoryConfig,
		Message:  "Invalid config file",
		Detail:   "dfsync.json must be a JSON object.",
	},
	"E110": {
		Category:   CategoryConfig,
		Message:    "Unknown snapshot mode",
		Detail:     "The snapshot mode must be \"length-prefixed\" or \"legacy\", and the same on server and clients.",
		Suggestion: "Use --snapshot-mode length-prefixed unless talking to an old server.",
	},

	// Network (E200-E299)

	"E200": {
		Category:   CategoryNetwork,
		Message:    "Cannot connect to server",
		Suggestion: "Check that the DM's server is running and that --addr points at it, or try --discover.",
	},
	"E201": {
		Category:   CategoryNetwork,
		Message:    "Rejected by server",
		Detail:     "The server closed the connection without sending the campaign, which means the player name is not in the party.",
		Suggestion: "Check the spelling of --user against the party roster.",
	},
	"E202": {
		Category: CategoryNetwork,
		Message:  "Connection lost",
	},
	"E203": {
		Category:   CategoryNetwork,
		Message:    "Address already in use",
		Suggestion: "Stop the other process or choose another port with --addr.",
	},
	"E204": {
		Category:   CategoryNetwork,
		Message:    "No servers found on the local network",
		Suggestion: "Make sure the DM started the server with --advertise, or pass --addr.",
	},

	// Campaign (E300-E399)

	"E300": {
		Category: CategoryCampaign,
		Message:  "Cannot read campaign file",
	},
	"E301": {
		Category: CategoryCampaign,
		Message:  "Invalid campaign document",
		Detail:   "The campaign file must be a JSON document with a \"party\" list.",
	},
	"E302": {
		Category:   CategoryCampaign,
		Message:    "Duplicate player name",
		Detail:     "Player names identify connections, so every party member needs a distinct name.",
		Suggestion: "Rename one of the players in the campaign file.",
	},

	// Assets (E400-E499)

	"E400": {
		Category: CategoryAssets,
		Message:  "Asset store unavailable",
	},
	"E401": {
		Category:   CategoryAssets,
		Message:    "Invalid bucket URL",
		Suggestion: "Use the form s3://bucket/prefix.",
	},
	"E402": {
		Category: CategoryAssets,
		Message:  "File not found on server",
	},
}

// GetAllCodes returns all registered error codes, sorted.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}

// Classify returns err as a coded Error when it matches a known condition.
// Unrecognized errors are returned as an uncoded CLI error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}

	code := ""
	switch {
	case stderrors.Is(err, client.ErrRejected):
		code = "E201"
	case stderrors.Is(err, discovery.ErrNoServers):
		code = "E204"
	case stderrors.Is(err, protocol.ErrUnknownSnapshotMode):
		code = "E110"
	case stderrors.Is(err, campaign.ErrDuplicatePlayer):
		code = "E302"
	case stderrors.Is(err, campaign.ErrInvalidDocument):
		code = "E301"
	case stderrors.Is(err, client.ErrFileNotFound):
		code = "E402"
	case stderrors.Is(err, syscall.EADDRINUSE):
		code = "E203"
	case stderrors.Is(err, protocol.ErrPeerClosed):
		code = "E202"
	case isDialError(err):
		code = "E200"
	}
	if code == "" {
		return &Error{Category: CategoryCLI, Message: err.Error()}
	}
	return New(code).Wrap(err)
}

func isDialError(err error) bool {
	var op *net.OpError
	return stderrors.As(err, &op) && op.Op == "dial"
}
