package main

import (
	"flag"
	"time"
)

// Cfg is the single populated configuration struct that main and its loops
// read directly, mirroring heplify's config.Cfg package-level pattern
// (a plain struct filled from flags, not a DI framework).
var Cfg config

type config struct {
	Iface         string
	Snaplen       int
	FanoutGroup   uint
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	StatsInterval time.Duration
	Dedup         bool
	QueueCapacity int
	LogLevel      string
}

func parseFlags() {
	flag.StringVar(&Cfg.Iface, "iface", "eth0", "network interface to capture from")
	flag.IntVar(&Cfg.Snaplen, "snaplen", 65536, "maximum bytes captured per frame")
	flag.UintVar(&Cfg.FanoutGroup, "fanout-group", 0, "PACKET_FANOUT group id, 0 disables sharding")
	flag.DurationVar(&Cfg.IdleTimeout, "idle-timeout", 30*time.Second, "flow idle expiry threshold")
	flag.DurationVar(&Cfg.SweepInterval, "sweep-interval", time.Second, "how often to run the idle sweep")
	flag.DurationVar(&Cfg.StatsInterval, "stats-interval", time.Minute, "how often to merge and emit stats")
	flag.BoolVar(&Cfg.Dedup, "dedup", false, "suppress duplicate frames seen within a short window")
	flag.IntVar(&Cfg.QueueCapacity, "queue-capacity", 20000, "bounded output queue capacity")
	flag.StringVar(&Cfg.LogLevel, "log-level", "info", "log level name (debug, info, warning, error); parsed but not applied to logp")
	flag.Parse()
}
