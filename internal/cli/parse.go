package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
)

const usage = `subcommand required

Usage: shelfdb [flags] <command> [args]

Commands:
  store <store> <json>     Store a document or a JSON array of documents
  find <store> [query]     Print the documents matching a JSON query
  get <store> <id>         Print one document with its relations
  remove <store> <query>   Remove the documents matching a JSON query
  empty <store>            Remove every document of a store
  watch <store>            Print the store's changes until interrupted
  serve                    Serve the configured engine over websockets

Examples:
  shelfdb -config shelf.yaml store posts '{"title": "hello"}'
  shelfdb -config shelf.yaml find posts '{"title": "hello"}'
  shelfdb -config shelf.yaml -addr 127.0.0.1:8000 serve`

// ErrUsage is returned when the arguments do not name a valid command.
var ErrUsage = errors.New("invalid usage")

// Options are the flags shared by every command.
type Options struct {
	ConfigPath string
	// Addr is the listen address of serve.
	Addr string
}

// Command is one parsed invocation.
type Command struct {
	Name  string
	Store string
	// Arg is the JSON document, query or id, depending on Name.
	Arg string
}

// Parse reads the global flags and the command that follows them.
func Parse(args []string, stderr io.Writer) (*Command, *Options, error) {
	flagSet := flag.NewFlagSet("shelfdb", flag.ContinueOnError)
	flagSet.SetOutput(stderr)

	opts := &Options{}
	flagSet.StringVar(&opts.ConfigPath, "config", "shelfdb.yaml", "Path to a YAML or TOML config file")
	flagSet.StringVar(&opts.Addr, "addr", "127.0.0.1:8000", "Listen address of the serve command")

	if err := flagSet.Parse(args); err != nil {
		return nil, nil, err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrUsage, usage)
	}

	cmd := &Command{Name: rest[0]}
	rest = rest[1:]

	var lo, hi int
	switch cmd.Name {
	case "store", "get", "remove":
		lo, hi = 2, 2
	case "find":
		lo, hi = 1, 2
	case "empty", "watch":
		lo, hi = 1, 1
	case "serve":
		lo, hi = 0, 0
	default:
		return nil, nil, fmt.Errorf("%w: unknown command %s\n\nValid commands: store, find, get, remove, empty, watch, serve", ErrUsage, cmd.Name)
	}
	if len(rest) < lo || len(rest) > hi {
		return nil, nil, fmt.Errorf("%w: wrong number of arguments for %s\n\n%s", ErrUsage, cmd.Name, usage)
	}

	if len(rest) > 0 {
		cmd.Store = rest[0]
	}
	if len(rest) > 1 {
		cmd.Arg = rest[1]
	}
	return cmd, opts, nil
}
