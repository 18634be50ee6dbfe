package bus

// PublishOptions controls change event publishing.
// TopicOverride replaces the fixed broadcast target; Key is used by partitioned transports.
type PublishOptions struct {
	TopicOverride string
	Key           string
	Headers       map[string]string
}
