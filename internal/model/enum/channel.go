package enum

// Channel is the kind of market data stream a subscription asks for.
type Channel uint8

const (
	_channel_beg Channel = iota
	ChannelOrderBook
	ChannelTrade
	_channel_end
)

func (c Channel) IsAvailable() bool {
	return c > _channel_beg && c < _channel_end
}

func (c Channel) String() string {
	switch c {
	case ChannelOrderBook:
		return "orderbook"
	case ChannelTrade:
		return "trade"
	default:
		return "unknown"
	}
}

// ParseChannel maps configuration names to a channel.
func ParseChannel(s string) (Channel, bool) {
	switch s {
	case "orderbook", "book", "depth":
		return ChannelOrderBook, true
	case "trade", "trades":
		return ChannelTrade, true
	default:
		return 0, false
	}
}
