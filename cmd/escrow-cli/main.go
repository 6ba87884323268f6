package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"peerescrow/cmd/internal/passphrase"
	"peerescrow/crypto"
	"peerescrow/rpc"
)

const defaultEndpoint = "http://127.0.0.1:8080/"

var (
	rpcEndpoint  = defaultRPCEndpoint()
	rpcAuthToken = strings.TrimSpace(os.Getenv("PEERESCROW_RPC_TOKEN"))
	rpcTimeout   = 30 * time.Second

	keystorePassphrase = passphrase.NewSource(passphrase.DefaultEnv)
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "address":
		return runAddress(args[1:], stdout, stderr)
	case "mint":
		return runMint(args[1:], stdout, stderr)
	case "registry":
		return runRegistryCommand(args[1:], stdout, stderr)
	case "pool":
		return runPoolCommand(args[1:], stdout, stderr)
	case "order":
		return runOrderCommand(args[1:], stdout, stderr)
	case "balance":
		return runBalance(args[1:], stdout, stderr)
	case "events":
		return runEvents(args[1:], stdout, stderr)
	case "watch":
		return runWatch(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func defaultRPCEndpoint() string {
	if value := strings.TrimSpace(os.Getenv("PEERESCROW_RPC_URL")); value != "" {
		return value
	}
	return defaultEndpoint
}

// applyGlobalFlags strips --rpc and --token from the front of args.
func applyGlobalFlags(args []string) ([]string, error) {
	for len(args) > 0 {
		arg := args[0]
		var name, value string
		switch {
		case arg == "--rpc" || arg == "--token":
			if len(args) < 2 {
				return nil, fmt.Errorf("%s requires a value", arg)
			}
			name, value = arg, args[1]
			args = args[2:]
		case strings.HasPrefix(arg, "--rpc="):
			name, value = "--rpc", strings.TrimPrefix(arg, "--rpc=")
			args = args[1:]
		case strings.HasPrefix(arg, "--token="):
			name, value = "--token", strings.TrimPrefix(arg, "--token=")
			args = args[1:]
		default:
			return args, nil
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return nil, fmt.Errorf("%s requires a value", name)
		}
		if name == "--rpc" {
			rpcEndpoint = value
		} else {
			rpcAuthToken = value
		}
	}
	return args, nil
}

func newClient() *rpc.Client {
	client := rpc.NewClient(rpcEndpoint, nil)
	if rpcAuthToken != "" {
		client.SetBearerToken(rpcAuthToken)
	}
	return client
}

func callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), rpcTimeout)
}

// call performs an unsigned query and prints the result.
func call(stdout, stderr io.Writer, method string, params interface{}) int {
	ctx, cancel := callContext()
	defer cancel()
	var out json.RawMessage
	if err := newClient().Call(ctx, method, params, &out); err != nil {
		return printCallError(stderr, err)
	}
	return printJSON(stdout, stderr, out)
}

// callSigned signs params with the keystore at keyPath and prints the result.
func callSigned(stdout, stderr io.Writer, keyPath, method string, params interface{}) int {
	key, err := loadKey(keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	ctx, cancel := callContext()
	defer cancel()
	var out json.RawMessage
	if err := newClient().CallSigned(ctx, key, method, params, &out); err != nil {
		return printCallError(stderr, err)
	}
	return printJSON(stdout, stderr, out)
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("--key is required")
	}
	pass, err := keystorePassphrase.Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("load keystore: %w", err)
	}
	return key, nil
}

func printJSON(stdout, stderr io.Writer, raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var pretty interface{}
	if err := json.Unmarshal(raw, &pretty); err != nil {
		return printError(stderr, fmt.Sprintf("decode result: %v", err))
	}
	encoded, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, string(encoded))
	return 0
}

func printCallError(w io.Writer, err error) int {
	var rpcErr *rpc.RPCError
	if errors.As(err, &rpcErr) {
		fmt.Fprintf(w, "RPC error %d: %s\n", rpcErr.Code, rpcErr.Message)
		if rpcErr.Data != nil {
			fmt.Fprintf(w, "  %v\n", rpcErr.Data)
		}
		return 1
	}
	fmt.Fprintf(w, "Error calling RPC: %v\n", err)
	return 1
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func newFlagSet(name string, stderr io.Writer, help func() string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, help())
	}
	return fs
}

func usage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli [--rpc URL] [--token JWT] <command> [flags]

Commands:
  keygen    Generate a key and write it to an encrypted keystore
  address   Print the identity of a keystore
  mint      Credit a balance through the development faucet
  registry  Initialize or inspect a seller registry
  pool      Deposit to, withdraw from or inspect a seller pool
  order     Create and drive escrow orders
  balance   Show a wallet balance
  events    List indexed events
  watch     Stream live events over websocket

Environment:
  PEERESCROW_RPC_URL              default API endpoint
  PEERESCROW_RPC_TOKEN            bearer token for the API
  PEERESCROW_KEYSTORE_PASSPHRASE  keystore passphrase
`)
}
