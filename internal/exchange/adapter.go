package exchange

import (
	"context"
	"net/http"
	"time"

	"marketcore/internal/model"
	"marketcore/pkg/websocket"
)

// Message is one websocket frame as received from, or sent to, an exchange.
type Message struct {
	Type    websocket.MessageType
	Payload []byte
}

func TextMessage(payload []byte) Message {
	return Message{Type: websocket.MessageText, Payload: payload}
}

// Adapter translates one exchange's wire protocol into canonical events.
// Implementations hold no per-connection state and are safe for concurrent use.
type Adapter interface {
	Exchange() model.Exchange
	// BuildSubscriptionMessages returns the frames to send right after connecting.
	BuildSubscriptionMessages(subs []model.SubscriptionDetail) ([]Message, error)
	// ParseMessage appends the events carried by msg to dst. Control frames
	// (acks, pongs, unknown topics) append nothing and return no error.
	ParseMessage(dst []*model.Event, msg Message, subs []model.SubscriptionDetail, recvTsNano int64) ([]*model.Event, error)
	IsHeartbeat(msg Message) bool
	// HeartbeatResponse returns the reply to a heartbeat, if the exchange expects one.
	HeartbeatResponse(msg Message) (Message, bool)
	// InitialSnapshot fetches the full book over REST to seed a diff stream.
	InitialSnapshot(ctx context.Context, client *http.Client, sub model.SubscriptionDetail, restEndpoint string) (*model.Event, error)
}

// Pinger is implemented by exchanges that expect client initiated keepalives.
type Pinger interface {
	Ping() (Message, time.Duration)
}

// Decoder is implemented by exchanges whose frames need unwrapping, such as
// compression, before heartbeat detection and parsing.
type Decoder interface {
	Decode(msg Message) (Message, error)
}

// Decode runs the adapter's Decoder when it has one.
func Decode(a Adapter, msg Message) (Message, error) {
	if d, ok := a.(Decoder); ok {
		return d.Decode(msg)
	}
	return msg, nil
}
