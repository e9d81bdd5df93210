package config

import (
	"fmt"

	"github.com/koopa0/maestro/internal/remote"
)

// RemoteConfig describes one external capability server. Exactly one
// transport applies: Command (stdio subprocess) or Endpoint (streamable
// HTTP).
type RemoteConfig struct {
	ID          string            `mapstructure:"id" json:"id"`
	DisplayName string            `mapstructure:"display_name" json:"display_name"`
	Command     string            `mapstructure:"command" json:"command"`
	Args        []string          `mapstructure:"args" json:"args"`
	Env         map[string]string `mapstructure:"env" json:"env"`
	Endpoint    string            `mapstructure:"endpoint" json:"endpoint"`
}

func (r RemoteConfig) validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRemote)
	}
	if r.Command == "" && r.Endpoint == "" {
		return fmt.Errorf("%w: %q has neither command nor endpoint", ErrInvalidRemote, r.ID)
	}
	if r.Command != "" && r.Endpoint != "" {
		return fmt.Errorf("%w: %q has both command and endpoint", ErrInvalidRemote, r.ID)
	}
	return nil
}

// RemoteConnections converts configured remotes into pool connection
// configs. Display names fall back to the connection ID.
func (c *Config) RemoteConnections() []remote.ConnectionConfig {
	out := make([]remote.ConnectionConfig, 0, len(c.Remotes))
	for _, r := range c.Remotes {
		name := r.DisplayName
		if name == "" {
			name = r.ID
		}
		out = append(out, remote.ConnectionConfig{
			ID:          r.ID,
			DisplayName: name,
			Command:     r.Command,
			Args:        r.Args,
			Env:         envMapToSlice(r.Env),
			Endpoint:    r.Endpoint,
		})
	}
	return out
}

// envMapToSlice converts an env map to the KEY=VALUE form exec.Cmd expects.
func envMapToSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
