package main

// RootFlags Flag structs to decouple cobra from logic for testing.
type RootFlags struct {
	ConfigPath   string
	Port         int
	Status       bool
	Kill         bool
	Replace      bool
	History      bool
	HistoryLimit int
	// bound into config through config.FlagKeys
	StateDir   string
	LogLevel   string
	TunnelBin  string
	HistoryDSN string
}

type DaemonFlags struct {
	Path string
	Port int
}
