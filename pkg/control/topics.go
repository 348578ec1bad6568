package control

import "fmt"

// Topic suffixes. All topics are prefixed with the configured prefix
// (default: "rover").

// TopicCommand carries JSON Command records, retained.
const TopicCommand = "command"

// TopicReady carries the one-way ready signal from the remote sender.
const TopicReady = "ready"

// Topics builds fully-qualified topic names.
type Topics struct {
	prefix string
}

// NewTopics creates a Topics helper with the given prefix.
func NewTopics(prefix string) Topics {
	return Topics{prefix: prefix}
}

// Command returns the full command topic path.
func (t Topics) Command() string {
	return fmt.Sprintf("%s/%s", t.prefix, TopicCommand)
}

// Ready returns the full ready topic path.
func (t Topics) Ready() string {
	return fmt.Sprintf("%s/%s", t.prefix, TopicReady)
}
