package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"hotdns/resolver"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	DefaultCfgFile = "/etc/hotdns/hotdns.yaml"
	EnvPrefix      = "HOTDNS"
)

var ErrConfig = errors.New("config error")

type Config struct {
	Service   ServiceConf
	Log       LogConf
	DnsEngine DnsEngineConf
	Resolver  ResolverConf
	Upstream  UpstreamConf
	Local     LocalConf
	ApiServer ApiServerConf
}

type ServiceConf struct {
	Name    string `validate:"required"`
	Verbose bool
	Debug   bool
}

type LogConf struct {
	File string
}

type DnsEngineConf struct {
	Addresses []string `validate:"required,min=1,dive,listen"`
	Tcp       bool
}

type ResolverConf struct {
	Timeout       time.Duration `validate:"gt=0"`
	HotWindow     time.Duration `validate:"gt=0"`
	SystemTTL     uint32        `validate:"gt=0"`
	RenewPerType  bool
	SweepInterval time.Duration `validate:"gt=0"`
}

type UpstreamConf struct {
	Default []string   `validate:"dive,upstream"`
	Zones   []ZoneConf `validate:"dive"`
}

// ZoneConf forwards the listed domains to servers. An empty server list
// sends matching names to the system resolver.
type ZoneConf struct {
	Name    string   `validate:"required"`
	Servers []string `validate:"dive,upstream"`
	Domains []string `validate:"required,min=1,dive,required"`
}

type LocalConf struct {
	Hosts []HostConf `validate:"dive"`
	File  string
}

type HostConf struct {
	Name      string   `validate:"required"`
	Addresses []string `validate:"required,min=1,dive,ip"`
}

type ApiServerConf struct {
	Address string `validate:"omitempty,listen"`
	Key     string `validate:"required_with=Address"`
}

// SetDefaults registers a default for every key so that environment
// overrides are seen by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "hotdns")
	v.SetDefault("service.verbose", false)
	v.SetDefault("service.debug", false)
	v.SetDefault("log.file", "")
	v.SetDefault("dnsengine.addresses", []string{"127.0.0.1:53"})
	v.SetDefault("dnsengine.tcp", true)
	v.SetDefault("resolver.timeout", "5s")
	v.SetDefault("resolver.hotwindow", resolver.DefaultHotWindow.String())
	v.SetDefault("resolver.systemttl", resolver.DefaultSystemTTL)
	v.SetDefault("resolver.renewpertype", false)
	v.SetDefault("resolver.sweepinterval", resolver.DefaultSweepInterval.String())
	v.SetDefault("upstream.default", []string{})
	v.SetDefault("upstream.zones", []ZoneConf{})
	v.SetDefault("local.hosts", []HostConf{})
	v.SetDefault("local.file", "")
	v.SetDefault("apiserver.address", "")
	v.SetDefault("apiserver.key", "")
}

// Load reads cfgfile (if not empty) into v, applies HOTDNS_ environment
// overrides and validates the result.
func Load(v *viper.Viper, cfgfile string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgfile != "" {
		v.SetConfigFile(cfgfile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: reading %s: %w", ErrConfig, cfgfile, err)
		}
		if v.GetBool("service.verbose") {
			log.Printf("Using config file: %s", v.ConfigFileUsed())
		}
	}

	var conf Config
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&conf, hooks); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %w", ErrConfig, err)
	}

	if err := Validate(&conf, cfgfile); err != nil {
		return nil, err
	}
	return &conf, nil
}
