package outbox

import (
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// TopicMapping routes event types to Kafka topics.
type TopicMapping struct {
	topics map[string]string
}

// NewTopicMapping merges the given maps, later maps winning on duplicate keys.
func NewTopicMapping(maps ...map[string]string) *TopicMapping {
	m := &TopicMapping{topics: map[string]string{}}
	for _, src := range maps {
		for k, v := range src {
			m.topics[k] = v
		}
	}
	return m
}

type mappingFile struct {
	Mapping map[string]string `yaml:"mapping"`
}

// LoadMappingFile reads a YAML file of the form "mapping: {EventType: topic}".
// Unlike viper, yaml.v3 keeps the key case.
func LoadMappingFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read topic mapping %s", path)
	}
	var f mappingFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrapf(err, "parse topic mapping %s", path)
	}
	return f.Mapping, nil
}

// Resolve looks up eventType as given, then lowercased, then in kebab-case.
func (m *TopicMapping) Resolve(eventType string) (string, bool) {
	for _, k := range []string{eventType, strings.ToLower(eventType), kebab(eventType)} {
		if t, ok := m.topics[k]; ok && t != "" {
			return t, true
		}
	}
	return "", false
}

// Validate fails with the sorted list of required event types that have no topic.
func (m *TopicMapping) Validate(required ...string) error {
	var missing []string
	for _, r := range required {
		if _, ok := m.Resolve(r); !ok {
			missing = append(missing, r)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return errors.Errorf("outbox topic mapping missing for: %s", strings.Join(missing, ", "))
}

// kebab turns "OrderCreatedEvent" into "order-created-event" and "stock.reserved" into "stock-reserved".
func kebab(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == '.' || r == '_' || r == ' ':
			b.WriteRune('-')
		case unicode.IsUpper(r):
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])) {
				b.WriteRune('-')
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
