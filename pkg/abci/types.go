package abci

import "strings"

// EventAttribute is one key/value pair of an Event.
type EventAttribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event is emitted by a transaction and stored in its result.
type Event struct {
	Type       string           `json:"type"`
	Attributes []EventAttribute `json:"attributes"`
}

// NewEvent builds an event from alternating key/value strings.
func NewEvent(typ string, kv ...string) Event {
	ev := Event{Type: typ, Attributes: make([]EventAttribute, 0, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		ev.Attributes = append(ev.Attributes, EventAttribute{Key: kv[i], Value: kv[i+1]})
	}
	return ev
}

// Get returns the first attribute named key.
func (e Event) Get(key string) (string, bool) {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

func (e Event) String() string {
	var b strings.Builder
	b.WriteString(e.Type)
	for _, a := range e.Attributes {
		b.WriteByte(' ')
		b.WriteString(a.Key)
		b.WriteByte('=')
		b.WriteString(a.Value)
	}
	return b.String()
}
