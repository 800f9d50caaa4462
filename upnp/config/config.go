// Package config defines the tunables of the stack and their defaults.
// The composition layer loads them from YAML and environment overrides.
package config

import (
	"fmt"
	"time"
)

// Settings are the options recognized by the router and the protocol
// engines.
type Settings struct {
	MulticastAddress string `yaml:"multicast_address"`
	MulticastPort    int    `yaml:"multicast_port"`
	StreamListenPort int    `yaml:"stream_listen_port"`

	TTL              int `yaml:"ttl"`
	MaxDatagramBytes int `yaml:"max_datagram_bytes"`

	SearchMX             int `yaml:"search_mx"`
	AdvertiseIntervalSec int `yaml:"advertise_interval_sec"`

	MinLeaseSec     int `yaml:"min_lease_sec"`
	MaxLeaseSec     int `yaml:"max_lease_sec"`
	RenewalSlackSec int `yaml:"renewal_slack_sec"`

	InterfaceInclude []string `yaml:"interface_include"`
	InterfaceExclude []string `yaml:"interface_exclude"`

	UserAgentProduct string `yaml:"user_agent_product"`

	RegistrySweepSec int `yaml:"registry_sweep_sec"`
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		MulticastAddress:     "239.255.255.250",
		MulticastPort:        1900,
		StreamListenPort:     4004,
		TTL:                  4,
		MaxDatagramBytes:     640,
		SearchMX:             3,
		AdvertiseIntervalSec: 1800,
		MinLeaseSec:          60,
		MaxLeaseSec:          3600,
		RenewalSlackSec:      30,
		UserAgentProduct:     "jupnp/1.0",
		RegistrySweepSec:     5,
	}
}

// Validate rejects nonsense early, before any socket is touched.
func (s Settings) Validate() error {
	if s.MulticastPort <= 0 || s.MulticastPort > 65535 {
		return fmt.Errorf("invalid multicast port %d", s.MulticastPort)
	}
	if s.StreamListenPort < 0 || s.StreamListenPort > 65535 {
		return fmt.Errorf("invalid stream listen port %d", s.StreamListenPort)
	}
	if s.TTL < 1 {
		return fmt.Errorf("invalid TTL %d", s.TTL)
	}
	if s.MaxDatagramBytes < 128 {
		return fmt.Errorf("max datagram size %d too small", s.MaxDatagramBytes)
	}
	if s.SearchMX < 1 || s.SearchMX > 5 {
		return fmt.Errorf("search MX %d outside [1, 5]", s.SearchMX)
	}
	if s.MinLeaseSec < 1 || s.MaxLeaseSec < s.MinLeaseSec {
		return fmt.Errorf("invalid lease bounds [%d, %d]", s.MinLeaseSec, s.MaxLeaseSec)
	}
	// Slack at or above the longest grantable lease would renew
	// immediately, forever.
	if s.RenewalSlackSec < 0 || s.RenewalSlackSec >= s.MaxLeaseSec {
		return fmt.Errorf("renewal slack %ds not below max lease %ds", s.RenewalSlackSec, s.MaxLeaseSec)
	}
	if s.AdvertiseIntervalSec < 60 {
		return fmt.Errorf("advertise interval %ds too short", s.AdvertiseIntervalSec)
	}
	return nil
}

// AdvertiseInterval returns the alive repetition period: half the
// advertised max-age, so two announcements fit in one lease.
func (s Settings) AdvertiseInterval() time.Duration {
	return time.Duration(s.AdvertiseIntervalSec/2) * time.Second
}

// ServerHeader returns the SERVER/USER-AGENT token.
func (s Settings) ServerHeader(osName, osVersion string) string {
	return fmt.Sprintf("%s/%s UPnP/1.1 %s", osName, osVersion, s.UserAgentProduct)
}
