// Package udptun implements a bidirectional UDP tunnel. Two cooperating
// processes — entry and target — bridge external UDP peers to a single
// real UDP server across a point-to-point UDP carrier link, multiplexing
// every client conversation behind a one-byte connection id.
package udptun
