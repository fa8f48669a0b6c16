package mesh

import (
	"context"
	"errors"
	"fmt"
)

var ErrTransportClosed = errors.New("transport closed")

// Message is a payload received on a topic, tagged with its origin peer.
type Message struct {
	From string
	Data []byte
}

// Topic is a joined publish/subscribe channel. Next never returns the
// caller's own messages.
type Topic interface {
	Publish(ctx context.Context, data []byte) error
	Next(ctx context.Context) (Message, error)
	Close() error
}

// Transport carries the mesh traffic of a peer.
type Transport interface {
	ID() string
	Join(topic string) (Topic, error)
	// Disconnected yields ids of peers whose last connection dropped.
	Disconnected() <-chan string
	Close() error
}

const topicPrefix = "/syncbeats/rooms"

func getDocTopic(roomId string) string {
	return fmt.Sprintf("%s/%s/doc", topicPrefix, roomId)
}

func getAwarenessTopic(roomId string) string {
	return fmt.Sprintf("%s/%s/awareness", topicPrefix, roomId)
}

func getSyncReqTopic(roomId string) string {
	return fmt.Sprintf("%s/%s/sync-req", topicPrefix, roomId)
}
