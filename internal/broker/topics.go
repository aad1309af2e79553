package broker

import (
	"encoding/json"
	"fmt"
	"strings"
)

func deviceTopic(prefix, deviceID string) string {
	return fmt.Sprintf("%s/devices/%s/meta/name", prefix, deviceID)
}

func controlTopic(prefix, deviceID, controlID string) string {
	return fmt.Sprintf("%s/devices/%s/controls/%s", prefix, deviceID, controlID)
}

func controlMetaTopic(prefix, deviceID, controlID string) string {
	return controlTopic(prefix, deviceID, controlID) + "/meta"
}

func controlWriteTopic(prefix, deviceID, controlID string) string {
	return controlTopic(prefix, deviceID, controlID) + "/on"
}

// writeSubscriptionFilter is the single wildcard subscription that catches
// every control's write topic.
func writeSubscriptionFilter(prefix string) string {
	return fmt.Sprintf("%s/devices/+/controls/+/on", prefix)
}

// parseWriteTopic extracts device/control ids from a concrete topic that
// matched writeSubscriptionFilter.
func parseWriteTopic(prefix, topic string) (deviceID, controlID string, ok bool) {
	rest := strings.TrimPrefix(topic, prefix+"/devices/")
	if rest == topic {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[1] != "controls" || parts[3] != "on" {
		return "", "", false
	}
	return parts[0], parts[2], true
}

// valueSubscriptionFilter is the wildcard subscription that catches every
// control's value topic (its /meta and /on siblings are excluded by
// parseValueTopic).
func valueSubscriptionFilter(prefix string) string {
	return fmt.Sprintf("%s/devices/+/controls/+", prefix)
}

// parseValueTopic extracts device/control ids from a concrete topic that
// matched valueSubscriptionFilter, rejecting the /meta and /on siblings
// that also match the MQTT wildcard.
func parseValueTopic(prefix, topic string) (deviceID, controlID string, ok bool) {
	rest := strings.TrimPrefix(topic, prefix+"/devices/")
	if rest == topic {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "controls" {
		return "", "", false
	}
	return parts[0], parts[2], true
}

func encodeMeta(m ControlMeta) ([]byte, error) {
	return json.Marshal(m)
}
