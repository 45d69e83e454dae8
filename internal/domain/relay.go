package domain

import "context"

// Delivery is one relay-delivered protocol message. Timestamp is the
// relay-assigned send time in Unix milliseconds, shared by every
// recipient of the same logical message.
type Delivery struct {
	Content   []byte `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// MessageStream yields deliveries in relay order. Next blocks until a
// message arrives, the stream ends cleanly (io.EOF), or the context
// passed to ReceiveMessages is cancelled.
type MessageStream interface {
	Next() (Delivery, error)
	Close() error
}

// RelayClient is how we talk to the central relay server: the
// key-package directory plus store-and-forward message delivery.
type RelayClient interface {
	UploadKeyPackage(ctx context.Context, client string, pkg []byte) (string, error)
	FetchKeyPackage(ctx context.Context, client string) ([]byte, error)

	SendMessage(ctx context.Context, sender string, recipients []string, content []byte) (int64, error)
	ReceiveMessages(ctx context.Context, client string) (MessageStream, error)
}
