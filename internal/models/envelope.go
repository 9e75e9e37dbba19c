package models

import (
	"errors"
	"fmt"
)

// EventType tags the kind of event an Envelope carries.
type EventType string

const (
	EventNew       EventType = "new"
	EventEdit      EventType = "edit"
	EventDelete    EventType = "delete"
	EventFileChunk EventType = "file-chunk"
)

// Valid reports whether t is one of the known event kinds.
func (t EventType) Valid() bool {
	switch t {
	case EventNew, EventEdit, EventDelete, EventFileChunk:
		return true
	}
	return false
}

// Envelope is the unit of transport relayed between chat participants.
// Edit and delete events carry only the message id; receivers re-fetch.
type Envelope struct {
	Type        EventType `json:"type"`
	Message     *Message  `json:"message,omitempty"`
	ID          int64     `json:"id,omitempty"`
	FileName    string    `json:"fileName,omitempty"`
	ChunkIndex  *int      `json:"chunkIndex,omitempty"`
	TotalChunks int       `json:"totalChunks,omitempty"`
	ChunkData   string    `json:"chunkData,omitempty"`
}

// NewMessageEnvelope announces a freshly stored message.
func NewMessageEnvelope(msg Message) Envelope {
	return Envelope{Type: EventNew, Message: &msg}
}

// EditEnvelope announces that message id changed.
func EditEnvelope(id int64) Envelope {
	return Envelope{Type: EventEdit, ID: id}
}

// DeleteEnvelope announces that message id was removed.
func DeleteEnvelope(id int64) Envelope {
	return Envelope{Type: EventDelete, ID: id}
}

// FileChunkEnvelope carries one base64-encoded slice of a file.
func FileChunkEnvelope(fileName string, index, total int, data string) Envelope {
	return Envelope{
		Type:        EventFileChunk,
		FileName:    fileName,
		ChunkIndex:  &index,
		TotalChunks: total,
		ChunkData:   data,
	}
}

// MessageID returns the id the envelope refers to, whichever field carries it.
func (e Envelope) MessageID() int64 {
	if e.Message != nil {
		return e.Message.ID
	}
	return e.ID
}

var ErrInvalidEnvelope = errors.New("invalid envelope")

// Validate checks that the fields required by the envelope type are present.
func (e Envelope) Validate() error {
	switch e.Type {
	case EventNew:
		if e.Message == nil {
			return fmt.Errorf("%w: %s without message", ErrInvalidEnvelope, e.Type)
		}
	case EventEdit, EventDelete:
		if e.ID <= 0 {
			return fmt.Errorf("%w: %s without id", ErrInvalidEnvelope, e.Type)
		}
	case EventFileChunk:
		if e.FileName == "" || e.ChunkIndex == nil || e.TotalChunks <= 0 {
			return fmt.Errorf("%w: file-chunk missing metadata", ErrInvalidEnvelope)
		}
		if *e.ChunkIndex < 0 || *e.ChunkIndex >= e.TotalChunks {
			return fmt.Errorf("%w: chunk index %d out of range", ErrInvalidEnvelope, *e.ChunkIndex)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEnvelope, e.Type)
	}
	return nil
}
