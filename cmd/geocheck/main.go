// geocheck is a manual harness for the geocoding and routing stack:
// it resolves the reference address and prints the walking distance to
// each address given on the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"cian-tracker/internal/config"
	"cian-tracker/internal/geo"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	reference := flag.String("from", "", "reference address (defaults to the configured one)")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: geocheck [-config file] [-from address] address [address...]")
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	from := cfg.Search.ReferenceAddress
	if *reference != "" {
		from = *reference
	}

	opts := geo.DefaultOptions()
	if cfg.Geo.NominatimURL != "" {
		opts.NominatimURL = cfg.Geo.NominatimURL
	}
	if cfg.Geo.OSRMURL != "" {
		opts.OSRMURL = cfg.Geo.OSRMURL
	}
	opts.MaxRetries = cfg.Geo.MaxRetries
	opts.BaseDelay = cfg.Geo.GetRetryDelay()
	opts.Timeout = cfg.Geo.GetTimeout()
	calc := geo.NewCalculator(opts, &http.Client{Timeout: opts.Timeout})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	origin, err := calc.Geocode(ctx, from)
	if err != nil {
		log.Fatalf("Failed to geocode reference %q: %v", from, err)
	}
	fmt.Printf("Reference: %s (%.6f, %.6f)\n", from, origin.Lat, origin.Lon)

	for _, address := range flag.Args() {
		km, err := calc.Distance(ctx, origin, address)
		if err != nil {
			fmt.Printf("%-60s unresolved: %v\n", address, err)
			continue
		}
		fmt.Printf("%-60s %.2f km\n", address, km)
	}
}
