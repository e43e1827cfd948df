package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

// Commands understood by ParseArgs.
const (
	CommandServe = "serve"
	CommandScan  = "scan"
)

// CLIArgs are the parsed command-line arguments of one invocation.
type CLIArgs struct {
	Command string

	// ConfigPath is the YAML config file; empty means defaults plus env.
	ConfigPath string

	// ListenAddr overrides server.listen_addr for serve.
	ListenAddr string

	// URLs are the targets of scan.
	URLs []string

	// RawArgs is the original args slice (useful for debugging/tests).
	RawArgs []string
}

// ParseArgs parses a slice of args and returns CLIArgs. It does not read
// os.Args.
func ParseArgs(args []string) (*CLIArgs, error) {
	if len(args) == 0 {
		return nil, errors.New("missing command: serve or scan")
	}

	cmd := args[0]
	fs := flag.NewFlagSet("ztguard "+cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "Path to the YAML config file")

	var listen *string
	switch cmd {
	case CommandServe:
		listen = fs.String("listen", "", "Listen address, overrides the config")
	case CommandScan:
	default:
		return nil, fmt.Errorf("unknown command %q", cmd)
	}

	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}

	out := &CLIArgs{
		Command:    cmd,
		ConfigPath: *configPath,
		RawArgs:    args,
	}
	if listen != nil {
		out.ListenAddr = *listen
	}
	if cmd == CommandScan {
		for _, u := range fs.Args() {
			if u = strings.TrimSpace(u); u != "" {
				out.URLs = append(out.URLs, u)
			}
		}
		if len(out.URLs) == 0 {
			return nil, errors.New("scan needs at least one URL")
		}
	}
	return out, nil
}
