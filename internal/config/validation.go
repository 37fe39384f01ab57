package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/smart-mcp-proxy/mcpctx/internal/secureenv"
)

// Validate fills defaults for unset sections and rejects impossible values
func (c *Config) Validate() error {
	if c.Environment == nil {
		c.Environment = secureenv.DefaultEnvConfig()
	}
	if c.Logging == nil {
		c.Logging = DefaultConfig().Logging
	}
	if c.Refresh == nil {
		c.Refresh = &RefreshConfig{}
	}
	if c.Refresh.Interval == 0 {
		c.Refresh.Interval = defaultRefreshInterval
	}
	if c.Refresh.Lookahead == 0 {
		c.Refresh.Lookahead = defaultRefreshLookahead
	}
	if c.Refresh.Interval < 0 || c.Refresh.Lookahead < 0 {
		return fmt.Errorf("refresh interval and lookahead must be positive")
	}
	if c.Extensions == nil {
		c.Extensions = &ExtensionConfig{}
	}
	if c.Observability == nil {
		c.Observability = DefaultConfig().Observability
	}

	seen := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("server %d: %w", i, err)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate server id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// Validate checks the fields that every server record needs
func (s *ServerConfig) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("server id is required")
	}
	switch s.Kind {
	case KindStdio:
		if s.Command == "" {
			return fmt.Errorf("server %s: command is required for stdio", s.ID)
		}
	case KindStreamableHTTP:
		if _, err := url.ParseRequestURI(s.URL); err != nil {
			return fmt.Errorf("server %s: invalid url: %w", s.ID, err)
		}
	case KindDXT:
		// install path is checked when the transport is built
	default:
		return fmt.Errorf("server %s: unknown kind %q", s.ID, s.Kind)
	}
	return nil
}
