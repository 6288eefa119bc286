package protocol

// Peer is one live connection as seen by the sync components. Send must not
// block on the network.
type Peer interface {
	ID() string
	ParticipantID() string
	Send(msg any) error
}
