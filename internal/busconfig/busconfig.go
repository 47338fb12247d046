// Package busconfig parses the bundled router's configuration fragment.
// The fragment is small, internal-only XML with no schema beyond what
// this package reads, so encoding/xml covers it.
package busconfig

import (
	"encoding/xml"
	"strconv"
	"strings"

	bderrors "github.com/alljoyn-go/coredaemon/internal/errors"
)

// Embedded is the configuration compiled into the bundled router, used
// whenever no on-disk override is supplied.
const Embedded = `<busconfig>
  <type>alljoyn_bundled</type>
  <listen>tcp:r4addr=0.0.0.0,r4port=0</listen>
  <limit auth_timeout="5000"/>
  <limit max_incomplete_connections="4"/>
  <limit max_completed_connections="16"/>
  <limit max_untrusted_clients="0"/>
  <property restrict_untrusted_clients="true"/>
  <ip_name_service>
    <property interfaces="*"/>
    <property disable_directed_broadcast="false"/>
    <property enable_ipv4="true"/>
    <property enable_ipv6="true"/>
  </ip_name_service>
  <tcp></tcp>
</busconfig>`

// Limit is one <limit key="value"/> element.
type Limit struct {
	AuthTimeout               int `xml:"auth_timeout,attr"`
	MaxIncompleteConnections  int `xml:"max_incomplete_connections,attr"`
	MaxCompletedConnections   int `xml:"max_completed_connections,attr"`
	MaxUntrustedClients       int `xml:"max_untrusted_clients,attr"`
}

type property struct {
	Interfaces              string `xml:"interfaces,attr"`
	DisableDirectedBroadcast string `xml:"disable_directed_broadcast,attr"`
	EnableIPv4               string `xml:"enable_ipv4,attr"`
	EnableIPv6               string `xml:"enable_ipv6,attr"`
}

type ipNameService struct {
	Properties []property `xml:"property"`
}

// Config is the parsed busconfig fragment: listen address, connection
// limits, and the ip_name_service block the daemon core reads at
// startup.
type Config struct {
	Type          string `xml:"type"`
	Listen        string `xml:"listen"`
	Limits        []Limit `xml:"limit"`
	IPNameService IPNameServiceConfig
}

// IPNameServiceConfig is the flattened <ip_name_service> block: which
// interfaces to use ("*" for all), whether directed broadcast is
// disabled, and whether each address family is enabled.
type IPNameServiceConfig struct {
	Interfaces              string
	DisableDirectedBroadcast bool
	EnableIPv4               bool
	EnableIPv6               bool
}

type rawConfig struct {
	XMLName       xml.Name      `xml:"busconfig"`
	Type          string        `xml:"type"`
	Listen        string        `xml:"listen"`
	Limits        []Limit       `xml:"limit"`
	IPNameService ipNameService `xml:"ip_name_service"`
}

// ListenSpec is one parsed listen= entry, e.g.
// "tcp:r4addr=0.0.0.0,r4port=0": a transport prefix followed by
// comma-separated key=value options.
type ListenSpec struct {
	Transport string
	Options   map[string]string
}

// ParseListen splits a listen spec into its transport prefix and options.
func ParseListen(s string) (ListenSpec, error) {
	colon := strings.IndexByte(s, ':')
	if colon < 0 {
		return ListenSpec{}, &bderrors.ParseError{Path: s, Message: "listen spec missing transport prefix"}
	}
	spec := ListenSpec{Transport: s[:colon], Options: make(map[string]string)}
	rest := s[colon+1:]
	if rest == "" {
		return spec, nil
	}
	for _, opt := range strings.Split(rest, ",") {
		eq := strings.IndexByte(opt, '=')
		if eq < 0 {
			return ListenSpec{}, &bderrors.ParseError{Path: s, Message: "listen option missing '=': " + opt}
		}
		spec.Options[opt[:eq]] = opt[eq+1:]
	}
	return spec, nil
}

// Port returns the named option parsed as a port number, or 0 when the
// option is absent or not numeric (0 means "not listening" throughout the
// name service).
func (l ListenSpec) Port(key string) uint16 {
	v, ok := l.Options[key]
	if !ok {
		return 0
	}
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(n)
}

// Parse decodes a busconfig XML fragment, returning BusBadXmlError on
// malformed XML.
func Parse(data []byte) (Config, error) {
	var raw rawConfig
	if err := xml.Unmarshal(data, &raw); err != nil {
		return Config{}, &bderrors.BusBadXmlError{Err: err}
	}
	cfg := Config{
		Type:   raw.Type,
		Listen: raw.Listen,
		Limits: raw.Limits,
	}
	for _, p := range raw.IPNameService.Properties {
		if p.Interfaces != "" {
			cfg.IPNameService.Interfaces = p.Interfaces
		}
		if p.DisableDirectedBroadcast != "" {
			cfg.IPNameService.DisableDirectedBroadcast = p.DisableDirectedBroadcast == "true"
		}
		if p.EnableIPv4 != "" {
			cfg.IPNameService.EnableIPv4 = p.EnableIPv4 == "true"
		}
		if p.EnableIPv6 != "" {
			cfg.IPNameService.EnableIPv6 = p.EnableIPv6 == "true"
		}
	}
	return cfg, nil
}
