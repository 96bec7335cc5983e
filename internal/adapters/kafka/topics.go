package kafka

// Topic definitions for Kafka event streaming
const (
	// TopicStreamEvents carries every decoded inbound frame, keyed by event kind
	TopicStreamEvents = "riskstream.events"
)

// Journal directions used in metrics
const (
	DirectionProduced = "produced"
	DirectionConsumed = "consumed"
)
