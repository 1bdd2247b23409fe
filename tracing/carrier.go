package tracing

import (
	"slices"

	kafkago "github.com/segmentio/kafka-go"
)

// KafkaHeaders is a propagation.TextMapCarrier over kafka-go message
// headers. Setting an existing key replaces its value.
type KafkaHeaders []kafkago.Header

func (h *KafkaHeaders) index(key string) int {
	return slices.IndexFunc(*h, func(hdr kafkago.Header) bool { return hdr.Key == key })
}

func (h *KafkaHeaders) Get(key string) string {
	if i := h.index(key); i >= 0 {
		return string((*h)[i].Value)
	}
	return ""
}

func (h *KafkaHeaders) Set(key, value string) {
	if i := h.index(key); i >= 0 {
		(*h)[i].Value = []byte(value)
		return
	}
	*h = append(*h, kafkago.Header{Key: key, Value: []byte(value)})
}

func (h *KafkaHeaders) Keys() []string {
	keys := make([]string, 0, len(*h))
	for _, hdr := range *h {
		keys = append(keys, hdr.Key)
	}
	return keys
}
