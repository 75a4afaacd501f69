// Package protocol defines the newline-delimited JSON spoken by vehicle
// trackers and the messages exchanged over Kafka.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType represents the type of message
type MessageType string

const (
	// Tracker to Server
	MsgTypeIdentify  MessageType = "identify"
	MsgTypeLocation  MessageType = "location"
	MsgTypeKeepalive MessageType = "keepalive"

	// Server to Tracker
	MsgTypeAck MessageType = "ack"
)

// BaseMessage is the common structure for all messages
type BaseMessage struct {
	Type MessageType `json:"type"`
}

// IdentifyMessage binds a connection to a vehicle
type IdentifyMessage struct {
	Type      MessageType `json:"type"`
	VehicleID string      `json:"vehicle_id"`
}

// LocationData is one position fix
type LocationData struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp string  `json:"timestamp"`
}

// LocationMessage carries a position fix from an identified tracker
type LocationMessage struct {
	Type MessageType  `json:"type"`
	Data LocationData `json:"data"`
}

// KeepaliveMessage resets the inactivity timer
type KeepaliveMessage struct {
	Type MessageType `json:"type"`
}

// AckMessage is sent by the server in response to every message
type AckMessage struct {
	Type      MessageType `json:"type"`
	Status    string      `json:"status"`
	Error     string      `json:"error,omitempty"`
	Geofences []string    `json:"geofences,omitempty"`
}

// AckStatus constants
const (
	AckStatusIdentified = "identified"
	AckStatusAccepted   = "accepted"
	AckStatusAlive      = "alive"
	AckStatusError      = "error"
)

// ParseMessage parses a JSON line into the appropriate message type
func ParseMessage(data []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch base.Type {
	case MsgTypeIdentify:
		var msg IdentifyMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid identify message: %w", err)
		}
		if msg.VehicleID == "" {
			return nil, fmt.Errorf("vehicle_id is required")
		}
		return &msg, nil

	case MsgTypeLocation:
		var msg LocationMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid location message: %w", err)
		}
		if err := validateLocation(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MsgTypeKeepalive:
		return &KeepaliveMessage{Type: MsgTypeKeepalive}, nil

	default:
		return nil, fmt.Errorf("unknown message type: %s", base.Type)
	}
}

// validateLocation checks the timestamp format. Coordinate bounds are
// enforced by the engine.
func validateLocation(msg *LocationMessage) error {
	if msg.Data.Timestamp == "" {
		return nil
	}
	if _, err := time.Parse(time.RFC3339, msg.Data.Timestamp); err != nil {
		return fmt.Errorf("invalid timestamp format (must be RFC3339): %w", err)
	}
	return nil
}

// EncodeMessage encodes a message to JSON
func EncodeMessage(msg interface{}) ([]byte, error) {
	return json.Marshal(msg)
}

// NewAckMessage creates a new acknowledgment message
func NewAckMessage(status string) *AckMessage {
	return &AckMessage{
		Type:   MsgTypeAck,
		Status: status,
	}
}

// NewErrorAck creates an error acknowledgment carrying the reason
func NewErrorAck(err error) *AckMessage {
	return &AckMessage{
		Type:   MsgTypeAck,
		Status: AckStatusError,
		Error:  err.Error(),
	}
}
