package server

import (
	"context"
	"fmt"
	"net"

	"github.com/go-zeromq/zmq4"
)

// ChangeTopic is the ZeroMQ topic change sets are published under.
const ChangeTopic = "table"

// Publisher sends change sets on a ZeroMQ PUB socket as two frames: the topic
// and the JSON change set.
type Publisher struct {
	pub      zmq4.Socket
	endpoint string
}

// NewPublisher binds a PUB socket to endpoint, e.g. "tcp://*:7000".
func NewPublisher(ctx context.Context, endpoint string) (*Publisher, error) {
	pub := zmq4.NewPub(ctx)
	if err := pub.Listen(endpoint); err != nil {
		pub.Close()
		return nil, fmt.Errorf("failed to start pub socket on %s: %w", endpoint, err)
	}
	return &Publisher{pub: pub, endpoint: endpoint}, nil
}

// Publish sends one change set.
func (p *Publisher) Publish(changes ChangeSet) error {
	payload, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("failed to encode change set: %w", err)
	}
	if err := p.pub.Send(zmq4.NewMsgFrom([]byte(ChangeTopic), payload)); err != nil {
		return fmt.Errorf("failed to publish change set: %w", err)
	}
	return nil
}

// Addr returns the address the socket is bound to.
func (p *Publisher) Addr() net.Addr { return p.pub.Addr() }

// Endpoint returns the endpoint the publisher was created with.
func (p *Publisher) Endpoint() string { return p.endpoint }

// Close closes the socket.
func (p *Publisher) Close() error { return p.pub.Close() }
