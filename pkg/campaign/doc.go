// Package campaign holds the campaign-side data the sync layer works with:
// the party roster that gates joining, the document served as a snapshot,
// the live table of player positions and the feed of applied updates.
//
// The document itself is opaque to the network. Only the fields needed to
// build the roster and the asset list are decoded.
package campaign
