package config

import (
	"fmt"
	"log"
	"net"
	"strconv"

	"hotdns/resolver/entities"

	"github.com/go-playground/validator/v10"
)

// CustomValidator knows the "upstream" and "listen" tags.
type CustomValidator struct {
	*validator.Validate
}

func NewCustomValidator() (*CustomValidator, error) {
	v := validator.New()
	if err := v.RegisterValidation("upstream", ValidateUpstream); err != nil {
		return nil, fmt.Errorf("NewCustomValidator: error registering upstream validation: %w", err)
	}
	if err := v.RegisterValidation("listen", ValidateListen); err != nil {
		return nil, fmt.Errorf("NewCustomValidator: error registering listen validation: %w", err)
	}
	return &CustomValidator{v}, nil
}

// ValidateUpstream accepts anything entities.ParseUpstream accepts.
func ValidateUpstream(fl validator.FieldLevel) bool {
	_, err := entities.ParseUpstream(fl.Field().String())
	return err == nil
}

// ValidateListen accepts host:port with an optional host.
func ValidateListen(fl validator.FieldLevel) bool {
	_, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	p, err := strconv.ParseUint(port, 10, 16)
	return err == nil && p > 0
}

func Validate(conf *Config, cfgfile string) error {
	validate, err := NewCustomValidator()
	if err != nil {
		return err
	}

	sections := []struct {
		name string
		data interface{}
	}{
		{"service", conf.Service},
		{"log", conf.Log},
		{"dnsengine", conf.DnsEngine},
		{"resolver", conf.Resolver},
		{"upstream", conf.Upstream},
		{"local", conf.Local},
		{"apiserver", conf.ApiServer},
	}
	for _, s := range sections {
		if conf.Service.Debug {
			log.Printf("Validate: checking %q section", s.name)
		}
		if err := validate.Struct(s.data); err != nil {
			return fmt.Errorf("%w: config %q, section %q:\n%v", ErrConfig, cfgfile, s.name, err)
		}
	}
	return nil
}
