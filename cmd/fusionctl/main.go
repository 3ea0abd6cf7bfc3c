// fusionctl is a command-line client for the fusionmcp bridge.
//
// Usage:
//
//	fusionctl [-addr host:port] call <method> [params-json]
//	fusionctl [-addr host:port] run <script.yaml>
//	fusionctl [-addr host:port] methods
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/getmanbill/fusion360-mcp/internal/protocol/mcp"
	"github.com/getmanbill/fusion360-mcp/pkg/client"
)

var errUsage = errors.New("bad usage")

func main() {
	addr := flag.String("addr", fmt.Sprintf("%s:%d", mcp.DefaultHost, mcp.DefaultPort), "Bridge address")
	timeout := flag.Duration("timeout", 30*time.Second, "Per-call timeout")
	flag.Parse()

	if err := run(context.Background(), *addr, *timeout, flag.Args()); err != nil {
		if errors.Is(err, errUsage) {
			usage()
			os.Exit(2)
		}
		log.Fatalf("%v", err)
	}
}

// run holds the whole command so errors unwind through it and the deferred
// connection close actually runs before the process exits.
func run(ctx context.Context, addr string, timeout time.Duration, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	c, err := client.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer c.Close()

	switch args[0] {
	case "call":
		if len(args) < 2 {
			return errUsage
		}
		params := map[string]any{}
		if len(args) > 2 {
			if err := json.Unmarshal([]byte(args[2]), &params); err != nil {
				return fmt.Errorf("invalid params JSON: %w", err)
			}
		}
		return callAndPrint(ctx, c, timeout, args[1], params)

	case "run":
		if len(args) < 2 {
			return errUsage
		}
		return runScript(ctx, c, timeout, args[1])

	case "methods":
		return callAndPrint(ctx, c, timeout, "fusion.list_methods", nil)

	default:
		return errUsage
	}
}

func callAndPrint(ctx context.Context, c *client.Client, timeout time.Duration, method string, params map[string]any) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.Call(callCtx, method, params)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return printJSON(result)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  fusionctl [-addr host:port] call <method> [params-json]
  fusionctl [-addr host:port] run <script.yaml>
  fusionctl [-addr host:port] methods
`)
}
