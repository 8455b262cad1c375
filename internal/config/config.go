// Package config holds the startup configuration types.
package config

// Config stores all parameters gathered from the command line. The defaults
// match the historical deployment this process emulates.
type Config struct {
	IMPAddr     string // UDP address the IMP listens on
	LocalPort   int    // local UDP port the IMP sends to
	ConsoleAddr string // TCP address of the operator console
	OldSocket   uint32 // listen socket for the old terminal dialect
	NewSocket   uint32 // listen socket for the new terminal dialect
}

// Default returns the historical constants.
func Default() Config {
	return Config{
		IMPAddr:     "127.0.0.1:20111",
		LocalPort:   20112,
		ConsoleAddr: "127.0.0.1:1025",
		OldSocket:   1,
		NewSocket:   23,
	}
}
