package gwconfig

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Flags is the parsed CLI surface (spec.md §6 CLI). Short-form flags
// mirror the spec exactly; `-d` also accepts the long form `--debug`.
type Flags struct {
	ConfigPath   string
	Interface    string
	BrokerPort   uint16
	BrokerHost   string
	Username     string
	Password     string
	TopicPrefix  string
	DebugLevel   int
}

// ExitUsage is the spec's usage-error exit code (2).
const ExitUsage = 2

// Parse parses args (normally os.Args[1:]) into Flags. A parse error or
// -h/--help returns an error whose presence should map to ExitUsage.
func Parse(args []string) (*Flags, error) {
	fs := pflag.NewFlagSet("wb-mqtt-smartweb", pflag.ContinueOnError)

	f := &Flags{}
	fs.StringVarP(&f.ConfigPath, "config", "c", "", "path to the gateway configuration file")
	fs.StringVarP(&f.Interface, "interface", "i", "can0", "CAN bus interface name")
	fs.Uint16VarP(&f.BrokerPort, "port", "p", 1883, "broker port")
	fs.StringVarP(&f.BrokerHost, "host", "H", "localhost", "broker host")
	fs.StringVarP(&f.Username, "username", "u", "", "broker username")
	fs.StringVarP(&f.Password, "password", "P", "", "broker password")
	fs.StringVarP(&f.TopicPrefix, "topic-prefix", "T", "", "broker topic prefix")
	fs.IntVarP(&f.DebugLevel, "debug", "d", 0, "logger verbosity, -4..4")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("gwconfig: %w", err)
	}
	if f.ConfigPath == "" {
		return nil, fmt.Errorf("gwconfig: -c <path> is required")
	}
	if f.DebugLevel < -4 || f.DebugLevel > 4 {
		return nil, fmt.Errorf("gwconfig: -d must be in [-4, 4], got %d", f.DebugLevel)
	}
	return f, nil
}
