package mqtt

import "strings"

// Root is the first level of every Gray Logic topic.
const Root = "graylogic"

// StatusTopic carries the retained online/offline status of this client,
// including the broker-published will.
const StatusTopic = Root + "/system/status"

// Topics builds the flat bridge topics for one protocol:
//
//	graylogic/{category}/{protocol}/{address}
//
// The zero value is not usable; build one with NewTopics.
type Topics struct {
	protocol string
}

// NewTopics returns the topic builder for a bridge protocol such as "lifx".
func NewTopics(protocol string) Topics {
	return Topics{protocol: protocol}
}

// Protocol returns the protocol level of the built topics.
func (t Topics) Protocol() string { return t.protocol }

// State is where a device's retained state is published.
func (t Topics) State(address string) string { return t.join("state", address) }

// Command is where commands for a device arrive.
func (t Topics) Command(address string) string { return t.join("command", address) }

// Ack is where command acknowledgements are published.
func (t Topics) Ack(address string) string { return t.join("ack", address) }

// Health is the bridge's retained health topic.
func (t Topics) Health() string { return t.join("health") }

// Commands matches the command topic of every device.
func (t Topics) Commands() string { return t.join("command", "+") }

func (t Topics) join(category string, rest ...string) string {
	parts := append([]string{Root, category, t.protocol}, rest...)
	return strings.Join(parts, "/")
}
