// Package logging provides leveled printf-style helpers for the service
// binaries. Callers prefix messages with their component tag, e.g.
// "[analyzer] wrote analysis.json".
package logging

import (
	"fmt"
	"log"
	"time"
)

func logf(level, format string, args ...any) {
	log.Printf("%-5s %s %s", level, time.Now().UTC().Format(time.RFC3339Nano), fmt.Sprintf(format, args...))
}

func Infof(format string, args ...any) {
	logf("INFO", format, args...)
}

func Errorf(format string, args ...any) {
	logf("ERROR", format, args...)
}
