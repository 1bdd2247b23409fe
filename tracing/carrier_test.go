package tracing

import (
	"slices"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
)

func TestKafkaHeaders(t *testing.T) {
	h := KafkaHeaders{{Key: "ksqlq-source", Value: []byte("Tweets")}}

	h.Set("traceparent", "a")
	h.Set("traceparent", "b")

	if got := h.Get("traceparent"); got != "b" {
		t.Errorf("Get(traceparent) = %q, want b", got)
	}
	if got := h.Get("tracestate"); got != "" {
		t.Errorf("Get(missing) = %q, want empty", got)
	}
	if got, want := h.Keys(), []string{"ksqlq-source", "traceparent"}; !slices.Equal(got, want) {
		t.Errorf("Keys = %v, want %v", got, want)
	}
}

func TestKafkaHeaders_Inject(t *testing.T) {
	withTraceContext(t)

	h := KafkaHeaders{}
	Inject(testSpan, &h)

	msg := kafkago.Message{Headers: h}
	if len(msg.Headers) != 1 || msg.Headers[0].Key != "traceparent" || string(msg.Headers[0].Value) != testTraceparent {
		t.Fatalf("headers = %v", msg.Headers)
	}
}
