package agent

import (
	"path"

	"github.com/harun/atlas/pkg/metadata"
)

// Config is the identity and policy of an agent. It is built once by Builder and never changes.
type Config struct {
	name         string
	description  string
	capabilities []string
	settings     *metadata.Metadata
}

func (c Config) Name() string { return c.name }

func (c Config) Description() string { return c.description }

// Capabilities returns the tool name patterns the agent may call.
func (c Config) Capabilities() []string {
	out := make([]string, len(c.capabilities))
	copy(out, c.capabilities)
	return out
}

// Settings returns a copy of the free-form agent settings.
func (c Config) Settings() *metadata.Metadata {
	return c.settings.Clone()
}

// Allows reports whether tool matches one of the capability patterns. Patterns use path.Match
// syntax, so "*" permits every tool and "math.*" permits "math.add".
func (c Config) Allows(tool string) bool {
	for _, pattern := range c.capabilities {
		if pattern == tool {
			return true
		}
		if ok, err := path.Match(pattern, tool); err == nil && ok {
			return true
		}
	}
	return false
}
