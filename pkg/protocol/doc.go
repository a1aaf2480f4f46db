// Package protocol implements the dfsync campaign synchronization wire protocol.
//
// A session runs over a single TCP connection and has three phases: a plaintext
// credential handshake, a campaign snapshot transfer, and a stream of
// delimiter-framed text messages in both directions. Binary asset responses are
// written out-of-band between framed messages.
//
// # Handshake
//
// The client opens the connection by writing its credentials, with no terminator:
//
//	<username>:<password>
//
// The server closes the connection without writing anything when the username is
// not in the party roster. The password is transmitted but never verified.
//
// # Snapshot
//
// Immediately after a successful handshake the server writes the campaign
// document. Two encodings exist (see SnapshotMode):
//
//	length-prefixed:  [length: uint32 big-endian][document bytes]
//	legacy:           [document bytes] (ends with a read shorter than 256 bytes)
//
// # Framed Messages
//
// After the snapshot, both directions carry UTF-8 text messages terminated by a
// single '|' byte. Fields are separated by ':':
//
//	POS:<player>:(x, y)      floating point map position
//	INDEX:<player>:(x, y)    integer grid index
//	FILE:<relative-path>     asset request (client to server only)
//
// The delimiter is never escaped; payloads must not contain it.
//
// # Asset Responses
//
// A FILE request is answered with a blob that is not delimiter-framed:
//
//	┌───────────────────────────────┬─────────────────────────┐
//	│ Length (4 bytes, big-endian)  │ Body (Length bytes)     │
//	└───────────────────────────────┴─────────────────────────┘
//
// A length of 0xFFFFFFFF means the asset does not exist and no body follows.
// Blobs are capped at MaxBlobSize, so the first header byte is always 0x00 or
// 0xFF while every framed message starts with an ASCII letter. Receivers use this
// to tell the two apart at a message boundary.
//
// # File Structure
//
//   - id.go: connection identity
//   - frame.go: delimiter framing and per-connection pending buffers
//   - message.go: message grammar (POS, INDEX, FILE)
//   - tuple.go: "(x, y)" tuple literals
//   - handshake.go: credentials
//   - transfer.go: snapshot and blob transfer
package protocol
