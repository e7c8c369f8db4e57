package cli

import (
	"fmt"
	"log"
	"os"

	"hotdns/api"
	"hotdns/config"
	"hotdns/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var cfgFile string
var debug, verbose bool

var conf *config.Config

var rootCmd = &cobra.Command{
	Use:   "hotdns",
	Short: "hotdns is a caching DNS forwarder that keeps popular names warm",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		fmt.Sprintf("config file (default is %s)", config.DefaultCfgFile))
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "debug output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"service.verbose": "verbose",
		"service.debug":   "debug",
	})
}

func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for key, flag := range keys {
		if err := viper.BindPFlag(key, fs.Lookup(flag)); err != nil {
			log.Fatalf("Error binding flag %s to %s: %v", flag, key, err)
		}
	}
}

// initConfig reads the config file, if there is one, and the environment.
func initConfig() {
	file := cfgFile
	if file == "" {
		if _, err := os.Stat(config.DefaultCfgFile); err == nil {
			file = config.DefaultCfgFile
		}
	}

	var err error
	conf, err = config.Load(viper.GetViper(), file)
	if err != nil {
		log.Fatalf("Could not load config: %v", err)
	}
	logging.SetupCli(conf.Service.Verbose, conf.Service.Debug)
}

func newApiClient() *api.ApiClient {
	if conf.ApiServer.Address == "" {
		log.Fatalf("Error: apiserver.address is not configured")
	}
	baseurl := fmt.Sprintf("http://%s/api/v1", conf.ApiServer.Address)
	return api.NewClient(conf.Service.Name, baseurl, conf.ApiServer.Key, conf.Service.Verbose, conf.Service.Debug)
}
