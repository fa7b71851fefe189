package config

import (
	"fmt"
	"net/url"
	"strings"
)

// EventHubsConnection is the parsed form of an Event Hubs connection string
type EventHubsConnection struct {
	Namespace  string // Fully qualified host, e.g. ns.servicebus.windows.net
	KeyName    string
	EntityPath string
	raw        string
}

// ParseEventHubsConnectionString extracts the namespace host and optional entity path
// from "Endpoint=sb://<host>/;SharedAccessKeyName=..;SharedAccessKey=..[;EntityPath=..]"
func ParseEventHubsConnectionString(s string) (*EventHubsConnection, error) {
	conn := &EventHubsConnection{raw: s}

	for _, part := range strings.Split(s, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.ToLower(key) {
		case "endpoint":
			u, err := url.Parse(value)
			if err != nil {
				return nil, fmt.Errorf("invalid Event Hubs endpoint %q: %w", value, err)
			}
			conn.Namespace = u.Host
		case "sharedaccesskeyname":
			conn.KeyName = value
		case "entitypath":
			conn.EntityPath = value
		}
	}

	if conn.Namespace == "" {
		return nil, fmt.Errorf("connection string has no Endpoint")
	}
	return conn, nil
}

// KafkaBrokers returns the namespace's Kafka endpoint
func (c *EventHubsConnection) KafkaBrokers() string {
	return c.Namespace + ":9093"
}

// ApplyKafka points k at the namespace's Kafka endpoint with SASL PLAIN authentication
func (c *EventHubsConnection) ApplyKafka(k *KafkaConfig) {
	k.Brokers = c.KafkaBrokers()
	k.SecurityProtocol = "SASL_SSL"
	k.SASLMechanism = "PLAIN"
	k.SASLUsername = "$ConnectionString"
	k.SASLPassword = c.raw
}
