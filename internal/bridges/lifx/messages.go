package lifx

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/mqtt"
)

// MQTT message types exchanged between Gray Logic Core and the LIFX bridge.
// They follow the same bridge interface as every other Gray Logic bridge;
// the address of a LIFX device is its serial.

// Protocol is the protocol identifier carried in ack and state messages.
const Protocol = "lifx"

// CommandMessage is sent from Core to the bridge to control a device.
// Topic: graylogic/command/lifx/{serial}
type CommandMessage struct {
	// ID correlates the command with its acknowledgment.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the Gray Logic device identifier.
	DeviceID string `json:"device_id"`

	// Command is the command name (e.g., "turn_on", "set_color", "identify").
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"brightness": 128, "duration": 1.5} for turn_on
	//   {"effect": "move", "speed": 3, "direction": "left"} for multizone_effect
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	// Values: "api", "automation", "voice", "scene"
	Source string `json:"source"`

	// UserID is the user who triggered the command (if applicable).
	UserID string `json:"user_id,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was received and is being sent.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the device did not respond within the timeout.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is sent from the bridge to Core to acknowledge a command.
// Topic: graylogic/ack/lifx/{serial}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`

	// Protocol is always "lifx".
	Protocol string `json:"protocol"`

	// Address is the device serial ("d0:73:d5:01:02:03").
	Address string `json:"address"`

	// Error contains details if status is "failed" or "timeout".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeUnknownCommand    = "UNKNOWN_COMMAND"
	ErrCodeUnsupported       = "UNSUPPORTED"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is sent from the bridge to Core after a poll cycle.
// Topic: graylogic/state/lifx/{serial}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`

	// Available is false once a device has missed too many polls.
	Available bool `json:"available"`

	// State is the light state, see StateFromSnapshot. Empty when the
	// device is unavailable.
	State map[string]any `json:"state,omitempty"`

	Protocol string `json:"protocol"`
	Address  string `json:"address"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthOffline   HealthStatus = "offline" // from LWT
	HealthStarting  HealthStatus = "starting"
	HealthStopping  HealthStatus = "stopping"
)

// HealthMessage reports the operational status of the bridge.
// Topic: graylogic/health/lifx
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// Statistics aggregates request counters over every device connection.
	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// DevicesManaged is the number of devices with a running coordinator.
	DevicesManaged int `json:"devices_managed"`

	// DevicesAvailable is how many of them answered their last poll.
	DevicesAvailable int `json:"devices_available"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// BridgeStatistics contains request counters summed over all connections.
type BridgeStatistics struct {
	RequestsSent      uint64 `json:"requests_sent"`
	Retransmits       uint64 `json:"retransmits"`
	ResponsesReceived uint64 `json:"responses_received"`
	Timeouts          uint64 `json:"timeouts"`
	LateResponses     uint64 `json:"late_responses"`
	Reconnects        uint64 `json:"reconnects"`
}

func (s *BridgeStatistics) add(c ConnectionStats) {
	s.RequestsSent += c.Sent
	s.Retransmits += c.Retransmits
	s.ResponsesReceived += c.Received
	s.Timeouts += c.Timeouts
	s.LateResponses += c.Late
	s.Reconnects += c.Reconnects
}

// UnmarshalJSON accepts an RFC3339 timestamp or none at all.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus, serial Serial) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
		Address:   serial.String(),
	}
}

// NewAckError creates an acknowledgment with error details. A TIMEOUT code
// yields status "timeout", anything else "failed".
func NewAckError(cmd CommandMessage, serial Serial, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, status, serial)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage creates a state message for an available device.
func NewStateMessage(deviceID string, serial Serial, state map[string]any) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		Available: true,
		State:     state,
		Protocol:  Protocol,
		Address:   serial.String(),
	}
}

// NewUnavailableMessage creates the state message published when a device
// stops answering.
func NewUnavailableMessage(deviceID string, serial Serial) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		Protocol:  Protocol,
		Address:   serial.String(),
	}
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, stats BridgeStatistics, managed, available int, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:           bridgeID,
		Timestamp:        time.Now().UTC(),
		Status:           status,
		Version:          version,
		UptimeSeconds:    int64(time.Since(startTime).Seconds()),
		Statistics:       &stats,
		DevicesManaged:   managed,
		DevicesAvailable: available,
	}
}

// NewLWTMessage creates a Last Will and Testament message for MQTT.
// The broker publishes it if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// StateFromSnapshot builds the state map of a StateMessage.
//
// Units follow what Core expects of any dimmable colour light: brightness
// 0-255, hue in degrees, saturation in percent. Raw 16-bit values stay in
// Diagnostics.
func StateFromSnapshot(s Snapshot) map[string]any {
	state := map[string]any{
		"on":         s.On,
		"brightness": int(s.Brightness),
		"hue":        hueDegrees(s.Color.Hue),
		"saturation": saturationPercent(s.Color.Saturation),
		"kelvin":     int(s.Color.Kelvin),
		"color_mode": s.ColorMode,
		"label":      s.Label,
	}
	if s.Group != "" {
		state["group"] = s.Group
	}
	if s.Model != "" {
		state["model"] = s.Model
	}
	if s.ZonesCount > 0 {
		state["zones_count"] = s.ZonesCount
	}
	if s.ActiveEffect != "" && s.ActiveEffect != FirmwareEffectOff.String() {
		state["effect"] = s.ActiveEffect
	}
	if s.HEV != nil {
		state["hev_active"] = s.HEV.Remaining > 0
	}
	if s.Infrared != nil {
		if option, ok := InfraredOption(*s.Infrared); ok {
			state["infrared"] = option
		}
	}
	return state
}

func hueDegrees(v uint16) int {
	return int(math.Round(float64(v) * 360 / math.MaxUint16))
}

func saturationPercent(v uint16) int {
	return int(math.Round(float64(v) * 100 / math.MaxUint16))
}

// Topic helpers

var topics = mqtt.NewTopics(Protocol)

// CommandTopic returns the MQTT topic for commands to a device.
func CommandTopic(serial Serial) string { return topics.Command(serial.Compact()) }

// AckTopic returns the MQTT topic for command acknowledgments.
func AckTopic(serial Serial) string { return topics.Ack(serial.Compact()) }

// StateTopic returns the MQTT topic for state updates.
func StateTopic(serial Serial) string { return topics.State(serial.Compact()) }

// HealthTopic returns the MQTT topic for health status.
func HealthTopic() string { return topics.Health() }

// CommandSubscribeTopic returns the subscription pattern for all commands.
func CommandSubscribeTopic() string { return topics.Commands() }
