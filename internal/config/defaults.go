package config

import "time"

// Default configuration values.
const (
	DefaultAlgorithm     = "bind"
	DefaultTimeoutMax    = 2 * time.Second
	DefaultTimeoutMin    = 10 * time.Millisecond
	DefaultRetriesMax    = 2
	DefaultListenUDP     = ":53"
	DefaultListenTCP     = ":53"
	DefaultMetricsListen = ":9153"
	DefaultSnapshotPath  = "/var/lib/rankdns/state.yaml"
	DefaultQuerylogCap   = 5000
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "json"
	DefaultQuestion      = "example.com A"
)
