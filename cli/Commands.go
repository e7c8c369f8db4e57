package cli

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"hotdns/api"

	"github.com/ryanuber/columnize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var pingCount int

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Send an API ping request and present the response",
	Run: func(cmd *cobra.Command, args []string) {
		pr, err := newApiClient().SendPing(pingCount)
		if err != nil {
			if strings.Contains(err.Error(), "connection refused") {
				fmt.Printf("Error: connection refused. Most likely the daemon is not running\n")
				os.Exit(1)
			}
			log.Fatalf("Error from SendPing: %v", err)
		}
		uptime := time.Since(pr.BootTime).Truncate(time.Second)
		fmt.Printf("%s (uptime %v). Pings: %d Pongs: %d\n", pr.Msg, uptime, pr.Pings, pr.Pongs)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show resolver, cache and renewal counters",
	Run: func(cmd *cobra.Command, args []string) {
		sr, err := newApiClient().Stats()
		if err != nil {
			log.Fatalf("Error from Stats: %v", err)
		}
		fmt.Println(FormatStats(sr))
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or flush the record cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list [suffix]",
	Short: "List cached entries, optionally only names under suffix",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		post := api.CachePost{Command: api.CacheList}
		if len(args) == 1 {
			post.Suffix = args[0]
		}
		cr, err := newApiClient().Cache(post)
		if err != nil {
			log.Fatalf("Error from Cache: %v", err)
		}
		if len(cr.Entries) == 0 {
			fmt.Println("Cache is empty")
			return
		}
		fmt.Println(FormatEntries(cr.Entries))
	},
}

var cacheLookupCmd = &cobra.Command{
	Use:   "lookup name [type]",
	Short: "Show the cached records for name (type A unless given)",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		post := api.CachePost{Command: api.CacheLookup, Name: args[0], Type: "A"}
		if len(args) == 2 {
			post.Type = args[1]
		}
		cr, err := newApiClient().Cache(post)
		if err != nil {
			log.Fatalf("Error from Cache: %v", err)
		}
		fmt.Println(FormatEntries(cr.Entries))
		for _, rr := range cr.Records {
			fmt.Println(rr)
		}
	},
}

var cacheFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Drop every cached entry",
	Run: func(cmd *cobra.Command, args []string) {
		cr, err := newApiClient().Cache(api.CachePost{Command: api.CacheFlush})
		if err != nil {
			log.Fatalf("Error from Cache: %v", err)
		}
		fmt.Printf("Flushed %d entries\n", cr.Flushed)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Run: func(cmd *cobra.Command, args []string) {
		out, err := yaml.Marshal(conf)
		if err != nil {
			log.Fatalf("Error from yaml.Marshal: %v", err)
		}
		fmt.Print(string(out))
	},
}

func init() {
	rootCmd.AddCommand(pingCmd, statsCmd, cacheCmd, configCmd)
	cacheCmd.AddCommand(cacheListCmd, cacheLookupCmd, cacheFlushCmd)
	configCmd.AddCommand(configShowCmd)

	pingCmd.Flags().IntVarP(&pingCount, "count", "c", 0, "ping counter to send to server")
}

func FormatStats(sr api.StatsResponse) string {
	s := sr.Stats
	out := []string{
		"Counter|Value",
		fmt.Sprintf("queries|%d", s.Queries),
		fmt.Sprintf("cache hits|%d", s.CacheHits),
		fmt.Sprintf("local overrides|%d", s.Overrides),
		fmt.Sprintf("forwarded|%d", s.Forwarded),
		fmt.Sprintf("system resolver|%d", s.System),
		fmt.Sprintf("coalesced|%d", s.Coalesced),
		fmt.Sprintf("failures|%d", s.Failures),
		fmt.Sprintf("unsupported|%d", s.Unsupported),
		fmt.Sprintf("cache size|%d", s.CacheSize),
		fmt.Sprintf("hot names|%d", s.HotNames),
		fmt.Sprintf("renewals pending|%d", s.Renewals.Pending),
		fmt.Sprintf("renewals armed|%d", s.Renewals.Armed),
		fmt.Sprintf("renewals done|%d", s.Renewals.Renewed),
		fmt.Sprintf("renewals failed|%d", s.Renewals.Failed),
	}
	res := columnize.SimpleFormat(out)

	routes := []string{"Zone|Route"}
	for _, z := range sr.Zones {
		name, route, _ := strings.Cut(z, ": ")
		routes = append(routes, name+"|"+route)
	}
	def := "system"
	if len(sr.Defaults) > 0 {
		def = strings.Join(sr.Defaults, ", ")
	}
	routes = append(routes, "default|"+def)
	return res + "\n\n" + columnize.SimpleFormat(routes)
}

func FormatEntries(entries []api.CacheEntry) string {
	out := []string{"Name|Type|TTL|RCode|Answers|Authority|Servers"}
	for _, e := range entries {
		servers := "system"
		if len(e.Servers) > 0 {
			servers = strings.Join(e.Servers, ",")
		}
		out = append(out, fmt.Sprintf("%s|%s|%d|%s|%d|%d|%s",
			e.Name, e.Type, e.TTL, strings.TrimPrefix(e.RCode, "RCode"), e.Answers, e.Authority, servers))
	}
	return columnize.SimpleFormat(out)
}
