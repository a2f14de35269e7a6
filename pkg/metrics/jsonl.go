package metrics

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Record is the JSON line written for one event by the JSONL and timeline
// observers. session_id is lifted out of the tags.
type Record struct {
	Time      time.Time         `json:"time"`
	Event     string            `json:"event"`
	SessionID string            `json:"session_id,omitempty"`
	Value     float64           `json:"value,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Fields    map[string]any    `json:"fields,omitempty"`
}

func NewRecord(ev MetricsEvent) Record {
	var tags map[string]string
	for k, v := range ev.Tags {
		if k == TagSessionID {
			continue
		}
		if tags == nil {
			tags = make(map[string]string, len(ev.Tags))
		}
		tags[k] = v
	}
	return Record{
		Time:      ev.Time.UTC(),
		Event:     ev.Name,
		SessionID: ev.SessionID(),
		Value:     ev.Value,
		Tags:      tags,
		Fields:    ev.Fields,
	}
}

// JSONLObserver appends one Record per event to w.
type JSONLObserver struct {
	mu  sync.Mutex
	enc *json.Encoder
	err error
}

func NewJSONLObserver(w io.Writer) *JSONLObserver {
	if w == nil {
		w = io.Discard
	}
	return &JSONLObserver{enc: json.NewEncoder(w)}
}

func (o *JSONLObserver) RecordEvent(ev MetricsEvent) {
	rec := NewRecord(ev)
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.enc.Encode(rec); err != nil && o.err == nil {
		o.err = err
	}
}

// Err returns the first write error.
func (o *JSONLObserver) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}
