package event

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusSynced, StatusFailed} {
		if !s.Valid() {
			t.Errorf("Valid(%q) = false", s)
		}
	}
	for _, s := range []Status{"", "done", "PENDING"} {
		if s.Valid() {
			t.Errorf("Valid(%q) = true", s)
		}
	}
}

func TestDecodePayloadVariants(t *testing.T) {
	cases := []struct {
		kind Kind
		data string
		want Payload
	}{
		{
			kind: KindRecordCreated,
			data: `{"collection":"notes","record_id":"n1"}`,
			want: RecordCreated{Collection: "notes", RecordID: "n1"},
		},
		{
			kind: KindRecordDeleted,
			data: `{"collection":"notes","record_id":"n1"}`,
			want: RecordDeleted{Collection: "notes", RecordID: "n1"},
		},
		{
			kind: KindConnectivity,
			data: `{"online":true,"metered":false}`,
			want: Connectivity{Online: true},
		},
		{
			kind: KindLifecycle,
			data: `{"phase":"background"}`,
			want: Lifecycle{Phase: "background"},
		},
		{
			kind: KindSyncReport,
			data: `{"synced":4,"failed":1,"conflicts":0,"duration_ms":120}`,
			want: SyncReport{Synced: 4, Failed: 1, DurationMs: 120},
		},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			got, err := DecodePayload(tc.kind, []byte(tc.data))
			if err != nil {
				t.Fatalf("DecodePayload: %v", err)
			}
			if got.Kind() != tc.kind {
				t.Errorf("Kind() = %q, want %q", got.Kind(), tc.kind)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("payload = %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestDecodePayloadUnknownKind(t *testing.T) {
	if _, err := DecodePayload("record.renamed", []byte(`{}`)); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestDecodePayloadEmptyData(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("null")} {
		p, err := DecodePayload(KindRecordDeleted, data)
		if err != nil {
			t.Fatalf("DecodePayload(%q): %v", data, err)
		}
		if p != (RecordDeleted{}) {
			t.Errorf("payload = %#v, want zero RecordDeleted", p)
		}
	}
}

func TestEventJSONRoundTrip(t *testing.T) {
	syncedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	src := &Event{
		ID:        "ev-1",
		Kind:      KindRecordUpdated,
		Payload:   RecordUpdated{Collection: "notes", RecordID: "n1", Fields: map[string]any{"title": "hello"}},
		Timestamp: 1717243200000,
		Status:    StatusSynced,
		CreatedAt: syncedAt.Add(-time.Minute),
		SyncedAt:  &syncedAt,
		DeviceID:  "dev-1",
	}

	data, err := json.Marshal(src)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// The wire shape inlines the payload under "payload" and names the
	// kind "type".
	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("unmarshal wire: %v", err)
	}
	if wire["type"] != "record.updated" {
		t.Errorf(`wire type = %v, want "record.updated"`, wire["type"])
	}
	payload, ok := wire["payload"].(map[string]any)
	if !ok {
		t.Fatalf("wire payload = %T, want object", wire["payload"])
	}
	if payload["record_id"] != "n1" {
		t.Errorf(`payload record_id = %v, want "n1"`, payload["record_id"])
	}

	var dst Event
	if err := json.Unmarshal(data, &dst); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if dst.ID != src.ID || dst.Kind != src.Kind || dst.Timestamp != src.Timestamp || dst.Status != src.Status {
		t.Errorf("envelope mismatch: %+v", dst)
	}
	got, ok := dst.Payload.(RecordUpdated)
	if !ok {
		t.Fatalf("payload = %T, want RecordUpdated", dst.Payload)
	}
	if got.Fields["title"] != "hello" {
		t.Errorf(`fields title = %v, want "hello"`, got.Fields["title"])
	}
	if dst.SyncedAt == nil || !dst.SyncedAt.Equal(syncedAt) {
		t.Errorf("synced_at = %v, want %v", dst.SyncedAt, syncedAt)
	}
}

func TestEventUnmarshalUnknownKind(t *testing.T) {
	var ev Event
	err := json.Unmarshal([]byte(`{"id":"x","type":"bogus.kind","payload":{}}`), &ev)
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestClone(t *testing.T) {
	at := time.Now()
	src := &Event{ID: "ev-1", Status: StatusSynced, SyncedAt: &at, FailedAt: &at}
	cp := src.Clone()

	if cp == src {
		t.Fatal("Clone returned the same pointer")
	}
	later := at.Add(time.Hour)
	*cp.SyncedAt = later
	if src.SyncedAt.Equal(later) {
		t.Error("mutating the clone's SyncedAt leaked into the source")
	}
}
