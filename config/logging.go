package config

import "fmt"

// Logging holds per-subsystem log levels, following qri's own Logging
// config shape (a flat map of subsystem name to level string) consumed
// by github.com/ipfs/go-log/v2 at startup.
type Logging struct {
	// Levels maps a go-log subsystem name to one of debug/info/warn/
	// error/fatal/panic. "*" sets the default for subsystems not
	// otherwise listed.
	Levels map[string]string `json:"levels"`
}

var validLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
}

// DefaultLogging silences the noisier libp2p subsystems and leaves
// application subsystems at info.
func DefaultLogging() *Logging {
	return &Logging{
		Levels: map[string]string{
			"*":       "info",
			"swarm2":  "error",
			"autonat": "error",
		},
	}
}

// Validate checks that every configured level is recognised.
func (l *Logging) Validate() error {
	for subsystem, level := range l.Levels {
		if !validLevels[level] {
			return fmt.Errorf("invalid log level %q for subsystem %q", level, subsystem)
		}
	}
	return nil
}

// Copy returns a deep copy of l.
func (l *Logging) Copy() *Logging {
	cpy := &Logging{Levels: make(map[string]string, len(l.Levels))}
	for k, v := range l.Levels {
		cpy.Levels[k] = v
	}
	return cpy
}
