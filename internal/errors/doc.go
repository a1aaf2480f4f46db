// Package errors provides structured, actionable error messages for the
// dfsync command line.
//
// Each error carries a code that maps to a short message, a longer detail
// and a hint on how to fix it. Classify turns the sentinel errors returned by
// the sync packages into coded errors.
//
// # Error Categories
//
//   - config: invalid flags, environment or dfsync.json
//   - network: dial, listen and handshake failures
//   - campaign: unreadable or invalid campaign documents
//   - assets: asset directory and bucket problems
//
// # Usage
//
//	err := errors.New("E201").
//	    WithDetail("Player \"Mallory\" is not in the party.").
//	    Wrap(client.ErrRejected)
//
//	fmt.Fprint(os.Stderr, err.Format())
//	// Output:
//	// ERROR E201: Rejected by server
//	//
//	//   Player "Mallory" is not in the party.
//	//
//	//   Hint: Check the spelling of --user against the party roster.
package errors
