package realtime

import "context"

// Stream is one live connection delivering frames in server-send order.
// Recv returns io.EOF when the server closes the stream cleanly.
type Stream interface {
	Recv(ctx context.Context) (Message, error)
	Close() error
}

// Transport opens a Stream subscribed to the given raw channel scopes.
type Transport interface {
	Dial(ctx context.Context, scopes []string) (Stream, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, scopes []string) (Stream, error)

func (f TransportFunc) Dial(ctx context.Context, scopes []string) (Stream, error) {
	return f(ctx, scopes)
}
