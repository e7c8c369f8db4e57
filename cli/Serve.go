package cli

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"hotdns/api"
	"hotdns/config"
	"hotdns/logging"
	"hotdns/resolver"
	"hotdns/resolver/query"
	"hotdns/server"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the DNS forwarder",
	Run: func(cmd *cobra.Command, args []string) {
		if err := Serve(cmd.Context(), conf); err != nil {
			log.Fatalf("Error: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// Serve runs listeners, the admin API and the popularity sweep until
// SIGINT or SIGTERM.
func Serve(ctx context.Context, conf *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logging.Setup(conf.Log.File)

	router, err := conf.Router()
	if err != nil {
		return err
	}
	client := query.NewClient(conf.Resolver.Timeout)
	client.Debug = conf.Service.Debug
	system := resolver.NewSystem(conf.Resolver.SystemTTL)
	system.Debug = conf.Service.Debug

	engine := resolver.NewEngine(router, client, system, conf.EngineOptions())
	defer engine.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go engine.Run(ctx)

	var servers []*server.Server
	defer func() {
		for _, s := range servers {
			s.Close()
		}
	}()
	for _, addr := range conf.DnsEngine.Addresses {
		s, err := server.NewServer(addr, conf.DnsEngine.Tcp, engine)
		if err != nil {
			return err
		}
		s.Verbose = conf.Service.Verbose
		s.Debug = conf.Service.Debug
		servers = append(servers, s)
		go s.Start()
	}

	apidone := make(chan struct{})
	if conf.ApiServer.Address != "" {
		r, err := api.SetupAPIRouter(conf.Service.Name, conf.ApiServer.Key, engine)
		if err != nil {
			return err
		}
		go func() {
			defer close(apidone)
			if err := api.APIdispatcher(ctx, r, conf.ApiServer.Address, conf.Service.Verbose); err != nil {
				log.Printf("Error from API dispatcher: %v", err)
			}
		}()
	} else {
		close(apidone)
	}

	log.Printf("%s: %d default upstreams, %d zone rules, %d local names",
		conf.Service.Name, len(router.Default), len(router.Rules), router.Overrides())

	<-ctx.Done()
	log.Printf("%s: shutting down", conf.Service.Name)
	<-apidone
	return nil
}
