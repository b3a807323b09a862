// Package heliaerr defines the sentinel error kinds shared across the
// blockstore, bitswap, dht and ipns packages.
package heliaerr

import "errors"

var (
	// ErrNotFound is returned when a block or record is absent locally and,
	// where applicable, could not be located on the network within the
	// deadline.
	ErrNotFound = errors.New("helia: not found")

	// ErrTimeout is returned when a deadline expired before an operation
	// completed.
	ErrTimeout = errors.New("helia: timeout")

	// ErrIntegrity is returned when stored or received bytes do not hash to
	// their declared CID.
	ErrIntegrity = errors.New("helia: integrity check failed")

	// ErrSignature is returned when an IPNS record's signature is invalid or
	// its sequence number regresses.
	ErrSignature = errors.New("helia: invalid ipns signature or sequence")

	// ErrNotConnected is returned when a send is attempted to a peer with no
	// live stream.
	ErrNotConnected = errors.New("helia: peer not connected")

	// ErrOperationNotSupported is returned by a router that cannot implement
	// a requested operation (e.g. an HTTP gateway router's Put).
	ErrOperationNotSupported = errors.New("helia: operation not supported")

	// ErrPublishFailed is returned when a downstream router refused a
	// published record.
	ErrPublishFailed = errors.New("helia: publish failed")

	// ErrCodec is returned for malformed protobuf/wire frames.
	ErrCodec = errors.New("helia: malformed wire frame")

	// ErrCancelled is returned when a caller dropped a future or issued an
	// explicit cancel.
	ErrCancelled = errors.New("helia: cancelled")
)
