// Package config loads the environment sections (PROD, STAGE, ...) that
// describe where the repository and search servers live.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultFile = "compass.toml"

	DefaultObjectPath   = "/islandora/object/"
	DefaultDownloadPath = "/islandora/object/%s/datastream/OBJ/download"
	DefaultSolrPath     = "/solr/collection1/select"
)

// MissingFileError is returned when the configuration file does not exist.
type MissingFileError struct {
	Path string
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("no configuration file found, please create %s", e.Path)
}

// MissingSectionError is returned for an unknown environment name.
type MissingSectionError struct {
	Path    string
	Section string
}

func (e *MissingSectionError) Error() string {
	return fmt.Sprintf("%q section not present in configuration file %s", e.Section, e.Path)
}

// Port is a TCP port given either as a number or a string.
type Port string

func (p *Port) UnmarshalTOML(v any) error {
	switch v := v.(type) {
	case int64:
		*p = Port(strconv.FormatInt(v, 10))
	case string:
		if v != "" {
			if _, err := strconv.ParseUint(v, 10, 16); err != nil {
				return fmt.Errorf("invalid port %q", v)
			}
		}
		*p = Port(v)
	default:
		return fmt.Errorf("invalid port type %T", v)
	}
	return nil
}

// Environment is one section of the configuration file.
type Environment struct {
	Name string `toml:"-"`

	DrupalProtocol     string `toml:"drupal_protocol"`
	DrupalHostname     string `toml:"drupal_hostname"`
	DrupalPort         Port   `toml:"drupal_port"`
	DrupalObjectPath   string `toml:"drupal_object_path"`
	FedoraDownloadPath string `toml:"fedora_download_path"`

	SolrProtocol string `toml:"solr_protocol"`
	SolrHostname string `toml:"solr_hostname"`
	SolrPort     Port   `toml:"solr_port"`
	SolrPath     string `toml:"solr_path"`
}

type Config struct {
	Path         string
	Environments map[string]*Environment
}

// Load reads the TOML file at path.
func Load(path string) (*Config, error) {
	sections := map[string]Environment{}
	if _, err := toml.DecodeFile(path, &sections); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &MissingFileError{Path: path}
		}
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	envs := make(map[string]*Environment, len(sections))
	for name, env := range sections {
		env.Name = name
		env.setDefaults()
		envs[name] = &env
	}

	return &Config{Path: path, Environments: envs}, nil
}

// Environment returns the named section.
func (c *Config) Environment(name string) (*Environment, error) {
	env, ok := c.Environments[name]
	if !ok {
		return nil, &MissingSectionError{Path: c.Path, Section: name}
	}
	return env, nil
}

// Names returns the section names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Environments))
	for n := range c.Environments {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (e *Environment) setDefaults() {
	if e.DrupalProtocol == "" {
		e.DrupalProtocol = "https"
	}
	if e.DrupalObjectPath == "" {
		e.DrupalObjectPath = DefaultObjectPath
	}
	if e.FedoraDownloadPath == "" {
		e.FedoraDownloadPath = DefaultDownloadPath
	}
	if e.SolrProtocol == "" {
		e.SolrProtocol = "http"
	}
	if e.SolrPath == "" {
		e.SolrPath = DefaultSolrPath
	}
}

func hostPort(host string, port Port) string {
	if port == "" {
		return host
	}
	return net.JoinHostPort(host, string(port))
}

// BaseURL is the Drupal site root without a trailing slash.
func (e *Environment) BaseURL() string {
	return e.DrupalProtocol + "://" + hostPort(e.DrupalHostname, e.DrupalPort)
}

// ObjectPath is the site relative object page path for pid. It is the
// same across environments and used as the history key for comparisons.
func (e *Environment) ObjectPath(pid string) string {
	p := e.DrupalObjectPath
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p + pid
}

func (e *Environment) ObjectURL(pid string) string {
	return e.BaseURL() + e.ObjectPath(pid)
}

// DownloadURL is the OBJ datastream download URL for pid.
func (e *Environment) DownloadURL(pid string) string {
	if strings.Contains(e.FedoraDownloadPath, "%s") {
		return e.BaseURL() + fmt.Sprintf(e.FedoraDownloadPath, pid)
	}
	return e.BaseURL() + e.FedoraDownloadPath + pid
}

func (e *Environment) SolrSelectURL() string {
	return e.SolrProtocol + "://" + hostPort(e.SolrHostname, e.SolrPort) + e.SolrPath
}
