package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"peerescrow/rpc"
)

func runBalance(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("balance", stderr, queryUsage)
	var owner, asset string
	fs.StringVar(&owner, "owner", "", "wallet identity")
	fs.StringVar(&asset, "asset", "", "token asset; native when empty")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(owner) == "" {
		return printError(stderr, "--owner is required")
	}
	return call(stdout, stderr, "escrow_getBalance", withAsset(map[string]interface{}{
		"owner": strings.TrimSpace(owner),
	}, asset))
}

func runMint(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("mint", stderr, queryUsage)
	var to, amount, asset string
	fs.StringVar(&to, "to", "", "recipient identity")
	fs.StringVar(&amount, "amount", "", "amount in base units")
	fs.StringVar(&asset, "asset", "", "token asset; native when empty")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(to) == "" {
		return printError(stderr, "--to is required")
	}
	if err := requireAmount(amount); err != nil {
		return printError(stderr, err.Error())
	}
	return call(stdout, stderr, "dev_mint", withAsset(map[string]interface{}{
		"to":     strings.TrimSpace(to),
		"amount": strings.TrimSpace(amount),
	}, asset))
}

func runEvents(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("events", stderr, queryUsage)
	var eventType string
	var after uint64
	var limit int
	fs.StringVar(&eventType, "type", "", "event type, e.g. escrow.released")
	fs.Uint64Var(&after, "after", 0, "return events after this sequence")
	fs.IntVar(&limit, "limit", 100, "maximum events returned")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	params := map[string]interface{}{"limit": limit}
	if after > 0 {
		params["after"] = after
	}
	setIfPresent(params, "type", eventType)
	return call(stdout, stderr, "escrow_listEvents", params)
}

func runWatch(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("watch", stderr, queryUsage)
	var eventType, seller, orderID, party string
	var count int
	fs.StringVar(&eventType, "type", "", "only stream this event type")
	fs.StringVar(&seller, "seller", "", "only stream events for this seller")
	fs.StringVar(&orderID, "id", "", "only stream events for this order id")
	fs.StringVar(&party, "party", "", "only stream events where this identity is seller or buyer")
	fs.IntVar(&count, "count", 0, "exit after this many events; 0 streams until interrupted")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	target, err := streamURL(rpcEndpoint, map[string]string{
		"type":    eventType,
		"seller":  seller,
		"orderId": orderID,
		"party":   party,
	})
	if err != nil {
		return printError(stderr, err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return watchEvents(ctx, target, count, stdout, stderr)
}

func watchEvents(ctx context.Context, target string, count int, stdout, stderr io.Writer) int {
	opts := &websocket.DialOptions{}
	if rpcAuthToken != "" {
		opts.HTTPHeader = map[string][]string{"Authorization": {"Bearer " + rpcAuthToken}}
	}
	conn, _, err := websocket.Dial(ctx, target, opts)
	if err != nil {
		return printError(stderr, fmt.Sprintf("connect %s: %v", target, err))
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	enc := json.NewEncoder(stdout)
	for seen := 0; count <= 0 || seen < count; seen++ {
		var evt rpc.StreamEvent
		if err := wsjson.Read(ctx, conn, &evt); err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return 0
			}
			return printError(stderr, fmt.Sprintf("read event: %v", err))
		}
		if err := enc.Encode(evt); err != nil {
			return printError(stderr, err.Error())
		}
	}
	return 0
}

// streamURL derives the websocket endpoint from the JSON-RPC endpoint.
func streamURL(endpoint string, filters map[string]string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", fmt.Errorf("invalid rpc endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported rpc scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	query := url.Values{}
	for key, value := range filters {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			query.Set(key, trimmed)
		}
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func queryUsage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli balance --owner ID [--asset ASSET]
  escrow-cli mint --to ID --amount N [--asset ASSET]
  escrow-cli events [--type TYPE] [--after SEQ] [--limit N]
  escrow-cli watch [--type TYPE] [--seller ID] [--id ORDER] [--party ID] [--count N]
`)
}
