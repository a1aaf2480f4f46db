// Package server implements the DM side of campaign synchronization.
//
// The server listens on TCP (port 9191 by default), authenticates each
// connecting party member by player name, sends the campaign snapshot and
// then relays POS and INDEX updates between clients. FILE requests are
// answered from an assets.Store.
//
// # Goroutines
//
//   - accept loop: accepts sockets and starts one handshake goroutine each
//   - handshake: reads credentials, checks the roster, sends the snapshot
//   - reader: one per established client, decodes frames and posts them
//   - event loop: the single owner of the Connection Record table; it
//     registers and drops clients, applies updates to the shared State,
//     publishes them on the update feed and relays them
//   - file fetch: one per FILE request, so a slow store never stalls relays
//
// Every write to a client socket happens under that client's write lock, so
// blob responses and relayed frames never interleave on the stream.
//
// # Lifecycle
//
//	srv, err := server.New(server.DefaultConfig(), src,
//	    server.WithAssets(store),
//	    server.WithMetrics(telemetry.NewMetrics()),
//	)
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
//	for u := range srv.Updates() {
//	    // redraw the marker for u.Player
//	}
package server
