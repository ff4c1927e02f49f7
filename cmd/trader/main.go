// Command trader runs the venue-connected trading runtime: market
// data hubs, the order state machine, account reconciliation, and the
// optional PostgreSQL journal.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	pyroscope "github.com/grafana/pyroscope-go"

	"main/internal/connector/binance"
	"main/internal/core"
	"main/internal/governor"
	"main/internal/journal"
	"main/internal/obs"
	"main/internal/ops"
	"main/pkg/conn"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML config")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty=disable)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "trader",
			ServerAddress:   *pyroscopeAddr,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	metrics := obs.NewMetrics()
	c := core.New(coreConfig(loaded), metrics)

	for _, venue := range loaded.Venues {
		rate := venue.Rate
		rate.OnWait = metrics.ObserveGovernorWait
		adapter := binance.New(ctx, binance.Config{
			Name:    venue.Name,
			RESTURL: venue.RESTURL,
			WSURL:   venue.WSURL,
			APIKey:  venue.APIKey,
			Signer:  hmacSigner(venue.APISecret),
		}, governor.New(rate))
		if err := c.AttachVenue(adapter); err != nil {
			log.Fatalf("attach venue %s: %v", venue.Name, err)
		}
	}

	if loaded.Journal.Enabled {
		client, err := conn.New(conn.Option{DSN: loaded.Journal.DSN})
		if err != nil {
			log.Fatalf("connect journal database: %v", err)
		}
		defer client.Close()

		j, err := journal.New(client.DB(), loaded.Journal.QueueSize)
		if err != nil {
			log.Fatalf("init journal: %v", err)
		}
		defer j.Close()
		go j.Run(ctx)

		sub := c.Subscribe()
		go func() {
			for ev := range sub.Events() {
				j.Publish(ev)
			}
		}()
	}

	if err := c.Start(ctx); err != nil {
		log.Fatalf("start core: %v", err)
	}
	defer c.Stop()

	<-ctx.Done()
}

func coreConfig(loaded ops.Loaded) core.Config {
	gaps := make(map[string]uint64, len(loaded.Venues))
	for _, venue := range loaded.Venues {
		gaps[venue.Name] = venue.GapTolerance
	}

	cfg := core.Config{
		AckTimeout:        loaded.AckTimeout,
		CancelTimeout:     loaded.CancelTimeout,
		ReconcileInterval: loaded.ReconcileInterval,
		EventBuffer:       loaded.EventBuffer,
	}
	for _, m := range loaded.Markets {
		cfg.Markets = append(cfg.Markets, core.MarketSub{
			Venue:        m.Venue,
			Symbol:       m.Symbol,
			GapTolerance: gaps[m.Venue],
		})
	}
	return cfg
}

func hmacSigner(secret string) binance.Signer {
	key := []byte(secret)
	return func(payload string) string {
		mac := hmac.New(sha256.New, key)
		mac.Write([]byte(payload))
		return hex.EncodeToString(mac.Sum(nil))
	}
}
