package domain

import "context"

// MessageBus routes inbound events from channels to the pipeline and
// outbound text from the pipeline back to the originating channel.
type MessageBus interface {
	Publish(ev InboundEvent) bool
	Subscribe() <-chan InboundEvent
	SendOutbound(ctx context.Context, msg OutboundMessage) (string, error)
	OnOutbound(channelName string, sender Sender)
	Close()
}
