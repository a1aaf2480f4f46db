package protocol

import (
	"errors"
	"strings"
)

// FieldSeparator separates the fields of a framed message.
const FieldSeparator = ":"

// Command identifies the kind of a framed message.
type Command string

const (
	CommandPosition Command = "POS"   // Player map position update
	CommandIndex    Command = "INDEX" // Player grid index update
	CommandFile     Command = "FILE"  // Asset request
)

// String returns the wire name of the command.
func (c Command) String() string {
	return string(c)
}

// IsUpdate reports whether messages with this command are relayed.
func (c Command) IsUpdate() bool {
	return c == CommandPosition || c == CommandIndex
}

// Message errors.
var (
	// ErrUnknownCommand is returned for messages whose command is not recognized.
	// Receivers ignore such messages.
	ErrUnknownCommand = errors.New("protocol: unknown command")

	// ErrMalformedMessage is returned when a known command is missing fields.
	ErrMalformedMessage = errors.New("protocol: malformed message")

	// ErrInvalidField is returned when building a message from a field that
	// contains a separator or the delimiter.
	ErrInvalidField = errors.New("protocol: invalid message field")
)

// Message is a parsed framed message.
type Message struct {
	Command Command

	// Player is the player named by POS and INDEX messages.
	Player string

	// Args is the unparsed remainder: the tuple literal for updates, the
	// relative path for FILE.
	Args string

	// Raw is the original message text without the delimiter.
	Raw string
}

// ParseMessage splits raw into a command and its arguments.
//
// Tuple literals are not validated here; use Point or Cell.
func ParseMessage(raw string) (Message, error) {
	command, rest, ok := strings.Cut(raw, FieldSeparator)
	if !ok {
		return Message{Raw: raw}, ErrUnknownCommand
	}

	msg := Message{Command: Command(command), Raw: raw}
	switch msg.Command {
	case CommandPosition, CommandIndex:
		player, args, ok := strings.Cut(rest, FieldSeparator)
		if !ok || player == "" || args == "" {
			return msg, ErrMalformedMessage
		}
		msg.Player = player
		msg.Args = args
	case CommandFile:
		if rest == "" {
			return msg, ErrMalformedMessage
		}
		msg.Args = rest
	default:
		return msg, ErrUnknownCommand
	}
	return msg, nil
}

// Point parses the arguments of a POS message.
func (m Message) Point() (Point, error) {
	return ParsePoint(m.Args)
}

// Cell parses the arguments of an INDEX message.
func (m Message) Cell() (Cell, error) {
	return ParseCell(m.Args)
}

// Path returns the requested path of a FILE message.
func (m Message) Path() string {
	return m.Args
}

// PositionMessage builds "POS:<player>:(x, y)".
func PositionMessage(player string, p Point) (string, error) {
	if err := checkField(player); err != nil {
		return "", err
	}
	return string(CommandPosition) + FieldSeparator + player + FieldSeparator + p.String(), nil
}

// IndexMessage builds "INDEX:<player>:(x, y)".
func IndexMessage(player string, c Cell) (string, error) {
	if err := checkField(player); err != nil {
		return "", err
	}
	return string(CommandIndex) + FieldSeparator + player + FieldSeparator + c.String(), nil
}

// FileRequest builds "FILE:<path>".
func FileRequest(path string) (string, error) {
	if path == "" || strings.IndexByte(path, Delimiter) >= 0 {
		return "", ErrInvalidField
	}
	return string(CommandFile) + FieldSeparator + path, nil
}

func checkField(s string) error {
	if s == "" || strings.Contains(s, FieldSeparator) || strings.IndexByte(s, Delimiter) >= 0 {
		return ErrInvalidField
	}
	return nil
}
