package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"hotdns/recordcache"
	"hotdns/resolver"
	"hotdns/resolver/entities"

	"github.com/miekg/dns"
	"golang.org/x/net/dns/dnsmessage"
)

var pongs atomic.Int64

func APIping(daemon string, bootTime time.Time) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Printf("APIping: received /ping request from %s.\n", r.RemoteAddr)

		var pp PingPost
		if err := json.NewDecoder(r.Body).Decode(&pp); err != nil {
			log.Println("APIping: error decoding ping post:", err)
		}
		hostname, _ := os.Hostname()
		response := PingResponse{
			Time:       time.Now(),
			BootTime:   bootTime,
			Daemon:     daemon,
			ServerHost: hostname,
			Client:     r.RemoteAddr,
			Msg:        fmt.Sprintf("pong from %s @ %s", daemon, hostname),
			Pings:      pp.Pings + 1,
			Pongs:      int(pongs.Add(1)),
		}
		sendJSON(w, response)
	}
}

func APIstats(engine *resolver.Engine) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		router := engine.Router()
		response := StatsResponse{
			Time:     time.Now(),
			Stats:    engine.Stats(),
			Defaults: upstreamStrings(router.Default),
			Local:    router.Overrides(),
		}
		for _, z := range router.Rules {
			servers := "system"
			if len(z.Servers) > 0 {
				servers = entities.JoinUpstreams(z.Servers)
			}
			response.Zones = append(response.Zones, fmt.Sprintf("%s: %s -> %s", z.Name, strings.Join(z.Domains, ","), servers))
		}
		sendJSON(w, response)
	}
}

func APIcache(engine *resolver.Engine) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var cp CachePost
		if err := json.NewDecoder(r.Body).Decode(&cp); err != nil {
			log.Println("APIcache: error decoding cache post:", err)
			http.Error(w, "bad cache post", http.StatusBadRequest)
			return
		}

		response := CacheResponse{Time: time.Now()}
		cache := engine.Cache()

		switch cp.Command {
		case CacheList:
			for _, e := range cache.Entries(strings.ToLower(entities.Fqdn(cp.Suffix))) {
				response.Entries = append(response.Entries, cacheEntry(e))
			}

		case CacheLookup:
			q, err := question(cp.Name, cp.Type)
			if err != nil {
				response.Error = true
				response.ErrorMsg = err.Error()
				break
			}
			res, ttl, ok := cache.Lookup(q)
			if !ok {
				response.Error = true
				response.ErrorMsg = fmt.Sprintf("%s %s is not cached", q.Name, q.Type)
				break
			}
			response.Entries = []CacheEntry{{
				Name:      entities.CanonicalName(q.Name),
				Type:      dns.TypeToString[uint16(q.Type)],
				TTL:       ttl,
				RCode:     res.RCode.String(),
				Answers:   len(res.Answer),
				Authority: len(res.Authority),
				Servers:   upstreamStrings(res.Servers),
			}}
			records := append(entities.StampTTL(res.Answer, ttl), entities.StampTTL(res.Authority, ttl)...)
			response.Records, err = PresentRecords(records)
			if err != nil {
				response.Error = true
				response.ErrorMsg = err.Error()
			}

		case CacheFlush:
			response.Flushed = cache.Len()
			cache.Flush()
			log.Printf("APIcache: flushed %d entries on request from %s", response.Flushed, r.RemoteAddr)

		default:
			response.Error = true
			response.ErrorMsg = fmt.Sprintf("unknown cache command: %q", cp.Command)
		}
		sendJSON(w, response)
	}
}

func sendJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("sendJSON: error encoding response: %v", err)
	}
}

func cacheEntry(e recordcache.Entry) CacheEntry {
	return CacheEntry{
		Name:      e.Name,
		Type:      dns.TypeToString[uint16(e.Type)],
		TTL:       e.TTL,
		RCode:     e.RCode.String(),
		Answers:   e.Answers,
		Authority: e.Authority,
		Servers:   upstreamStrings(e.Servers),
	}
}

func upstreamStrings(servers []entities.Upstream) []string {
	out := make([]string, 0, len(servers))
	for _, s := range servers {
		out = append(out, s.String())
	}
	return out
}

func question(name, qtype string) (dnsmessage.Question, error) {
	t, ok := dns.StringToType[strings.ToUpper(qtype)]
	if !ok {
		return dnsmessage.Question{}, fmt.Errorf("unknown record type %q", qtype)
	}
	n, err := dnsmessage.NewName(strings.ToLower(entities.Fqdn(name)))
	if err != nil {
		return dnsmessage.Question{}, fmt.Errorf("bad name %q: %w", name, err)
	}
	return dnsmessage.Question{Name: n, Type: dnsmessage.Type(t), Class: dnsmessage.ClassINET}, nil
}

// PresentRecords renders records in zone file presentation format.
func PresentRecords(records []dnsmessage.Resource) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	msg := dnsmessage.Message{Answers: records}
	buf, err := msg.Pack()
	if err != nil {
		return nil, err
	}
	var m dns.Msg
	if err := m.Unpack(buf); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m.Answer))
	for _, rr := range m.Answer {
		out = append(out, rr.String())
	}
	return out, nil
}
