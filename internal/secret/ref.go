package secret

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// RefTypeSecret marks a value held in the Store
const RefTypeSecret = "secret"

// secretRefRegex matches a whole ${type:name} value
var secretRefRegex = regexp.MustCompile(`^\$\{([^:}]+):([^}]+)\}$`)

// Ref is a configuration value that points at a secret instead of holding it
type Ref struct {
	Type     string
	Name     string
	Original string
}

// ParseRef parses a ${type:name} reference
func ParseRef(input string) (*Ref, error) {
	matches := secretRefRegex.FindStringSubmatch(input)
	if len(matches) != 3 {
		return nil, fmt.Errorf("invalid secret reference format: %s", input)
	}

	return &Ref{
		Type:     strings.TrimSpace(matches[1]),
		Name:     strings.TrimSpace(matches[2]),
		Original: input,
	}, nil
}

// IsRef returns true if the whole value is a store-backed secret reference
func IsRef(input string) bool {
	ref, err := ParseRef(input)
	return err == nil && ref.Type == RefTypeSecret
}

// NewRef allocates a fresh opaque key and returns the reference pointing at it
func NewRef() *Ref {
	name := uuid.NewString()
	return &Ref{
		Type:     RefTypeSecret,
		Name:     name,
		Original: fmt.Sprintf("${%s:%s}", RefTypeSecret, name),
	}
}

// String returns the reference as it is written into configuration
func (r *Ref) String() string {
	return fmt.Sprintf("${%s:%s}", r.Type, r.Name)
}

// MaskSecretValue masks a secret value for safe display
func MaskSecretValue(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	if len(value) <= 8 {
		return value[:2] + "****"
	}
	return value[:3] + "****" + value[len(value)-2:]
}
