package protocol

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxCredentialsSize is the largest credential message the server reads.
const MaxCredentialsSize = 1028

// Handshake errors.
var (
	// ErrInvalidCredentials is returned for credential messages that are empty,
	// not UTF-8, or carry no username.
	ErrInvalidCredentials = errors.New("protocol: invalid credentials")
)

// Credentials is the first message a client sends: "<username>:<password>".
// The password is carried but not verified by the server.
type Credentials struct {
	Username string
	Password string
}

// EncodeCredentials encodes c without a terminator.
func EncodeCredentials(c Credentials) ([]byte, error) {
	if err := checkField(c.Username); err != nil {
		return nil, ErrInvalidCredentials
	}
	if strings.IndexByte(c.Password, Delimiter) >= 0 {
		return nil, ErrInvalidCredentials
	}
	return []byte(c.Username + FieldSeparator + c.Password), nil
}

// ParseCredentials decodes a credential message. The username is everything
// before the first ':'; a message without ':' has an empty password.
func ParseCredentials(data []byte) (Credentials, error) {
	if len(data) == 0 || !utf8.Valid(data) {
		return Credentials{}, ErrInvalidCredentials
	}
	username, password, _ := strings.Cut(string(data), FieldSeparator)
	if username == "" {
		return Credentials{}, ErrInvalidCredentials
	}
	return Credentials{Username: username, Password: password}, nil
}
