// Package federation models the other members of the federation and the
// ways this manager talks to them: member selection (Picker), membership
// tracking (Registry), the remote peer protocol (Peer, HTTPPeer) and the
// rendezvous heartbeat client.
package federation
