// Package config loads gitup's section-keyed TOML configuration file and
// resolves proxy settings, falling back to HTTP_PROXY/HTTPS_PROXY when a
// section doesn't set one explicitly.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/emaste/gitup/internal/transport"
	"github.com/emaste/gitup/internal/xerrors"
)

// Section is one fully-resolved configuration record — everything gitup's
// core needs to clone, pull, or repair one remote repository snapshot.
type Section struct {
	Name            string
	Host            string
	Port            int
	RepositoryPath  string
	Branch          string
	TargetDirectory string
	WorkDirectory   string
	DisplayDepth    int
	Ignores         []string
	LowMemory       bool

	ProxyHost     string
	ProxyPort     int
	ProxyUsername string
	ProxyPassword string
}

// rawSection is the TOML table shape a section decodes into; fields
// absent from the document keep Go's zero value.
type rawSection struct {
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	RepositoryPath  string   `toml:"repository_path"`
	Branch          string   `toml:"branch"`
	TargetDirectory string   `toml:"target_directory"`
	WorkDirectory   string   `toml:"work_directory"`
	DisplayDepth    int      `toml:"display_depth"`
	Ignores         []string `toml:"ignores"`
	LowMemory       bool     `toml:"low_memory"`

	ProxyHost     string `toml:"proxy_host"`
	ProxyPort     int    `toml:"proxy_port"`
	ProxyUsername string `toml:"proxy_username"`
	ProxyPassword string `toml:"proxy_password"`
}

type document map[string]rawSection

// Load reads path as a TOML document and returns the resolved record for
// the named section, falling back to HTTP_PROXY/HTTPS_PROXY environment
// variables when the section itself names no proxy.
func Load(path, section string) (*Section, error) {
	var doc document
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, xerrors.New(xerrors.ConfigInvalid, fmt.Errorf("reading config %s: %w", path, err))
	}

	raw, ok := doc[section]
	if !ok {
		return nil, xerrors.Newf(xerrors.ConfigInvalid, "section %q not found in %s", section, path)
	}
	if raw.Host == "" {
		return nil, xerrors.Newf(xerrors.ConfigInvalid, "section %q missing required host", section)
	}
	if raw.RepositoryPath == "" {
		return nil, xerrors.Newf(xerrors.ConfigInvalid, "section %q missing required repository_path", section)
	}
	if raw.TargetDirectory == "" {
		return nil, xerrors.Newf(xerrors.ConfigInvalid, "section %q missing required target_directory", section)
	}

	s := &Section{
		Name:            section,
		Host:            raw.Host,
		Port:            raw.Port,
		RepositoryPath:  raw.RepositoryPath,
		Branch:          raw.Branch,
		TargetDirectory: raw.TargetDirectory,
		WorkDirectory:   raw.WorkDirectory,
		DisplayDepth:    raw.DisplayDepth,
		Ignores:         raw.Ignores,
		LowMemory:       raw.LowMemory,
		ProxyHost:       raw.ProxyHost,
		ProxyPort:       raw.ProxyPort,
		ProxyUsername:   raw.ProxyUsername,
		ProxyPassword:   raw.ProxyPassword,
	}

	if s.ProxyHost == "" {
		if err := applyProxyEnv(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// applyProxyEnv fills in s's proxy fields from HTTPS_PROXY (preferred,
// since gitup always speaks TLS) or HTTP_PROXY, in
// "scheme://[user:pass@]host:port[/]" form.
func applyProxyEnv(s *Section) error {
	raw := os.Getenv("HTTPS_PROXY")
	if raw == "" {
		raw = os.Getenv("https_proxy")
	}
	if raw == "" {
		raw = os.Getenv("HTTP_PROXY")
	}
	if raw == "" {
		raw = os.Getenv("http_proxy")
	}
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return xerrors.New(xerrors.ConfigInvalid, fmt.Errorf("parsing proxy URL %q: %w", raw, err))
	}

	host := u.Hostname()
	if host == "" {
		return xerrors.Newf(xerrors.ConfigInvalid, "proxy URL %q has no host", raw)
	}
	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil {
			return xerrors.New(xerrors.ConfigInvalid, fmt.Errorf("parsing proxy port %q: %w", p, err))
		}
		port = parsed
	}

	s.ProxyHost = host
	s.ProxyPort = port
	if u.User != nil {
		s.ProxyUsername = u.User.Username()
		s.ProxyPassword, _ = u.User.Password()
	}
	return nil
}

// ProxyConfig builds the transport-level proxy configuration for s, or
// nil if no proxy is configured.
func (s *Section) ProxyConfig() *transport.ProxyConfig {
	if s.ProxyHost == "" {
		return nil
	}
	return &transport.ProxyConfig{
		Host:     s.ProxyHost,
		Port:     s.ProxyPort,
		Username: s.ProxyUsername,
		Password: s.ProxyPassword,
	}
}
