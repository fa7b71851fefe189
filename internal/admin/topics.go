// Package admin provisions the Kafka topics the relay reads from and writes to.
package admin

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const operationTimeout = 30 * time.Second

// TopicSpec represents configuration for a single Kafka topic read from YAML
type TopicSpec struct {
	Partitions        int                    `yaml:"partitions"`
	ReplicationFactor int                    `yaml:"replication_factor"`
	CleanupPolicy     string                 `yaml:"cleanup.policy"`
	Other             map[string]interface{} `yaml:",inline"`
}

// TopicFile is the layout of configs/kafka_topics.yaml
type TopicFile struct {
	Topics map[string]TopicSpec `yaml:"topics"`
}

// TopicCreator is the part of the Kafka admin client used for provisioning
type TopicCreator interface {
	CreateTopics(ctx context.Context, topics []kafka.TopicSpecification, options ...kafka.CreateTopicsAdminOption) ([]kafka.TopicResult, error)
}

// Summary counts provisioning results per topic
type Summary struct {
	Created  []string
	Existing []string
	Failed   map[string]error
}

// LoadTopicFile reads and parses a topic definition file
func LoadTopicFile(path string) (*TopicFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", path, err)
	}

	var tf TopicFile
	if err := yaml.Unmarshal(content, &tf); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}

	for name, spec := range tf.Topics {
		if spec.Partitions < 1 {
			return nil, fmt.Errorf("topic %s: partitions must be at least 1", name)
		}
	}
	return &tf, nil
}

// Names returns the topic names in sorted order
func (tf *TopicFile) Names() []string {
	names := make([]string, 0, len(tf.Topics))
	for name := range tf.Topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specifications builds admin specs in name order. Replication defaults to 1.
func (tf *TopicFile) Specifications() []kafka.TopicSpecification {
	var specs []kafka.TopicSpecification
	for _, name := range tf.Names() {
		t := tf.Topics[name]

		replication := t.ReplicationFactor
		if replication < 1 {
			replication = 1
		}

		specs = append(specs, kafka.TopicSpecification{
			Topic:             name,
			NumPartitions:     t.Partitions,
			ReplicationFactor: replication,
			Config:            t.config(),
		})
	}
	return specs
}

func (t TopicSpec) config() map[string]string {
	cfg := map[string]string{}
	if t.CleanupPolicy != "" {
		cfg["cleanup.policy"] = t.CleanupPolicy
	}

	// Copy other configurations
	for k, v := range t.Other {
		cfg[k] = fmt.Sprint(v)
	}
	return cfg
}

// DryRun describes what EnsureTopics would create
func DryRun(w io.Writer, tf *TopicFile, verbose bool) {
	fmt.Fprintf(w, "🔍 Dry run mode - would create/verify %d topic(s):\n", len(tf.Topics))

	for _, spec := range tf.Specifications() {
		fmt.Fprintf(w, "   📋 %s (partitions: %d, replication: %d, cleanup: %s)\n",
			spec.Topic, spec.NumPartitions, spec.ReplicationFactor, spec.Config["cleanup.policy"])
		if !verbose {
			continue
		}

		keys := make([]string, 0, len(spec.Config))
		for k := range spec.Config {
			if k != "cleanup.policy" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "      %s: %s\n", k, spec.Config[k])
		}
	}
}

// EnsureTopics creates missing topics; existing topics are left untouched
func EnsureTopics(ctx context.Context, admin TopicCreator, tf *TopicFile) (*Summary, error) {
	summary := &Summary{Failed: map[string]error{}}
	if len(tf.Topics) == 0 {
		log.Warn().Msg("⚠️ No topics defined")
		return summary, nil
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	results, err := admin.CreateTopics(ctx, tf.Specifications(), kafka.SetAdminOperationTimeout(operationTimeout))
	if err != nil {
		return nil, fmt.Errorf("CreateTopics request failed: %w", err)
	}

	for _, res := range results {
		switch res.Error.Code() {
		case kafka.ErrTopicAlreadyExists:
			log.Info().Str("topic", res.Topic).Msg("✓ already exists")
			summary.Existing = append(summary.Existing, res.Topic)
		case kafka.ErrNoError:
			log.Info().Str("topic", res.Topic).Msg("✓ created")
			summary.Created = append(summary.Created, res.Topic)
		default:
			log.Error().Err(res.Error).Str("topic", res.Topic).Msg("✗ failed")
			summary.Failed[res.Topic] = res.Error
		}
	}

	log.Info().
		Int("created", len(summary.Created)).
		Int("existing", len(summary.Existing)).
		Int("failed", len(summary.Failed)).
		Msg("📊 Topic provisioning summary")

	if len(summary.Failed) > 0 {
		return summary, fmt.Errorf("%d topic(s) could not be created", len(summary.Failed))
	}
	return summary, nil
}
