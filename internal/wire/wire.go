// Package wire defines the compact binary encoding for values that cross a
// queue or pub/sub boundary (spec.md §4.3 step 4/5, §6 "internal RPC"). Field
// numbers are assigned explicitly and documented; like a protobuf schema,
// they MUST NOT be renumbered once shipped — only appended to. Encoding uses
// msgpack's array-of-fields mode so field identity is positional, mirroring
// protobuf field tags without standing up a second wire format.
package wire

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// QueueItem is what internal/ingest enqueues and internal/worker dequeues.
// Field order is the wire contract:
//
//	1 ProjectID
//	2 EnqueuedAt
//	3 Payload (msgpack-encoded model.LogEvent, encoded separately so the
//	  queue layer never has to import internal/model)
type QueueItem struct {
	_msgpack   struct{} `msgpack:",as_array"`
	ProjectID  int64
	EnqueuedAt time.Time
	Payload    []byte
}

func EncodeQueueItem(item *QueueItem) ([]byte, error) {
	return msgpack.Marshal(item)
}

func DecodeQueueItem(b []byte) (*QueueItem, error) {
	var item QueueItem
	if err := msgpack.Unmarshal(b, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Notification is the compact error-level payload published to the
// notification bus and fanned out over SSE (spec.md §4.3 step 5).
//
//	1 ProjectID
//	2 Fingerprint
//	3 ErrorType
//	4 ErrorMessage
//	5 Timestamp
type Notification struct {
	_msgpack     struct{} `msgpack:",as_array"`
	ProjectID    int64
	Fingerprint  string
	ErrorType    string
	ErrorMessage string
	Timestamp    time.Time
}

func EncodeNotification(n *Notification) ([]byte, error) {
	return msgpack.Marshal(n)
}

func DecodeNotification(b []byte) (*Notification, error) {
	var n Notification
	if err := msgpack.Unmarshal(b, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// EncodeLogEvent and DecodeLogEvent serialize the fields of a LogEvent into
// the QueueItem.Payload slot. Kept separate from model.LogEvent itself so
// internal/wire has no dependency on internal/model and can be grounded
// purely on the wire-shape requirement.
type LogEventPayload struct {
	_msgpack         struct{} `msgpack:",as_array"`
	ProjectID        int64
	TimestampUnixMs  int64
	IngestedAtUnixMs int64
	Level            string
	LogType          string
	Importance       string
	Environment      string
	Release          string
	Message          string
	ErrorType        string
	ErrorMessage     string
	StackTrace       string
	Attributes       []byte
	SDKVersion       string
	Platform         string
	PlatformVersion  string
	ProcessingTimeMs int16
	ErrorFingerprint string
}

func EncodeLogEventPayload(p *LogEventPayload) ([]byte, error) {
	return msgpack.Marshal(p)
}

func DecodeLogEventPayload(b []byte) (*LogEventPayload, error) {
	var p LogEventPayload
	if err := msgpack.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
