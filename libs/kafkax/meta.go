package kafkax

import (
	"strings"

	"github.com/segmentio/kafka-go"
)

// EventMeta is the metadata carried as headers on every appointment event.
// DoctorID lets consumers route per calendar without decoding the payload.
type EventMeta struct {
	EventID   string
	EventType string
	DoctorID  string
}

const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
	HeaderDoctorID  = "doctor_id"
)

func (m EventMeta) Headers() []kafka.Header {
	headers := []kafka.Header{
		{Key: HeaderEventID, Value: []byte(m.EventID)},
		{Key: HeaderEventType, Value: []byte(m.EventType)},
	}
	if m.DoctorID != "" {
		headers = append(headers, kafka.Header{Key: HeaderDoctorID, Value: []byte(m.DoctorID)})
	}
	return headers
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
