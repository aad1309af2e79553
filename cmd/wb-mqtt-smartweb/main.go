// Command wb-mqtt-smartweb is the bidirectional SmartWeb CAN bus <-> MQTT
// broker gateway (spec.md §1). See internal/orchestrator for the
// composition root and internal/gwconfig for the CLI/configuration surface.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/wirenboard/wb-mqtt-smartweb/internal/gwconfig"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/orchestrator"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags, err := gwconfig.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "wb-mqtt-smartweb:", err)
		return gwconfig.ExitUsage
	}

	logger := logrus.NewEntry(newLogger(flags.DebugLevel))

	o, err := orchestrator.New(flags, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, orchestrator.Fatal(err))
		return orchestrator.ExitFatal
	}

	return o.Run()
}

// newLogger maps the spec's -d level (-4..4) onto a logrus level: 0 is the
// default (info); positive values progressively enable debug/trace detail,
// negative values progressively silence down to error-only.
func newLogger(level int) *logrus.Logger {
	l := logrus.New()
	switch {
	case level >= 4:
		l.SetLevel(logrus.TraceLevel)
	case level >= 1:
		l.SetLevel(logrus.DebugLevel)
	case level == 0:
		l.SetLevel(logrus.InfoLevel)
	case level >= -2:
		l.SetLevel(logrus.WarnLevel)
	default:
		l.SetLevel(logrus.ErrorLevel)
	}
	return l
}
