package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	MaxSizeMB  = 20
	MaxBackups = 3
	MaxAgeDays = 14
)

// Setup points the standard logger at a rotating logfile, or at stderr
// when logfile is empty.
func Setup(logfile string) io.Writer {
	log.SetFlags(log.Lshortfile | log.Ltime)

	var out io.Writer = os.Stderr
	if logfile != "" {
		out = &lumberjack.Logger{
			Filename:   logfile,
			MaxSize:    MaxSizeMB,
			MaxBackups: MaxBackups,
			MaxAge:     MaxAgeDays,
		}
	}
	log.SetOutput(out)
	return out
}

// SetupCli drops timestamps for interactive commands unless verbose or
// debug output was asked for.
func SetupCli(verbose, debug bool) {
	if verbose || debug {
		log.SetFlags(log.Lshortfile | log.Ltime)
	} else {
		log.SetFlags(0)
	}
}
