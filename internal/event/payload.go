package event

import (
	"encoding/json"
	"fmt"
)

// Kind identifies an event's payload variant. The set is closed:
// decoding an unknown kind is an error.
type Kind string

const (
	KindRecordCreated Kind = "record.created"
	KindRecordUpdated Kind = "record.updated"
	KindRecordDeleted Kind = "record.deleted"
	KindConnectivity  Kind = "connectivity.changed"
	KindLifecycle     Kind = "app.lifecycle"
	KindSyncReport    Kind = "sync.report"
)

// Payload is the closed union of event payloads. Each variant carries
// its own typed data; consumers switch on the concrete type instead of
// asserting on loose maps.
type Payload interface {
	Kind() Kind
}

// RecordCreated captures a new domain record.
type RecordCreated struct {
	Collection string         `json:"collection"`
	RecordID   string         `json:"record_id"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// RecordUpdated captures changed fields of an existing record.
type RecordUpdated struct {
	Collection string         `json:"collection"`
	RecordID   string         `json:"record_id"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// RecordDeleted captures a record removal.
type RecordDeleted struct {
	Collection string `json:"collection"`
	RecordID   string `json:"record_id"`
}

// Connectivity captures a network state change reported by the
// lifecycle observer.
type Connectivity struct {
	Online  bool `json:"online"`
	Metered bool `json:"metered"`
}

// Lifecycle captures an app lifecycle transition ("foreground",
// "background").
type Lifecycle struct {
	Phase string `json:"phase"`
}

// SyncReport summarizes a completed sync cycle, logged back into the
// event stream for diagnostics.
type SyncReport struct {
	Synced     int   `json:"synced"`
	Failed     int   `json:"failed"`
	Conflicts  int   `json:"conflicts"`
	DurationMs int64 `json:"duration_ms"`
}

func (RecordCreated) Kind() Kind { return KindRecordCreated }
func (RecordUpdated) Kind() Kind { return KindRecordUpdated }
func (RecordDeleted) Kind() Kind { return KindRecordDeleted }
func (Connectivity) Kind() Kind  { return KindConnectivity }
func (Lifecycle) Kind() Kind     { return KindLifecycle }
func (SyncReport) Kind() Kind    { return KindSyncReport }

// EncodePayload serializes a payload variant to JSON. A nil payload
// encodes as null.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	return json.Marshal(p)
}

// DecodePayload deserializes variant data selected by kind.
func DecodePayload(kind Kind, data []byte) (Payload, error) {
	if len(data) == 0 || string(data) == "null" {
		data = []byte("{}")
	}
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindRecordCreated:
		var v RecordCreated
		err = json.Unmarshal(data, &v)
		p = v
	case KindRecordUpdated:
		var v RecordUpdated
		err = json.Unmarshal(data, &v)
		p = v
	case KindRecordDeleted:
		var v RecordDeleted
		err = json.Unmarshal(data, &v)
		p = v
	case KindConnectivity:
		var v Connectivity
		err = json.Unmarshal(data, &v)
		p = v
	case KindLifecycle:
		var v Lifecycle
		err = json.Unmarshal(data, &v)
		p = v
	case KindSyncReport:
		var v SyncReport
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}
