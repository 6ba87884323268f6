package main

import (
	"fmt"
	"io"
	"strings"
)

func runRegistryCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, registryUsage())
		return 1
	}
	switch args[0] {
	case "init":
		return runRegistryInit(args[1:], stdout, stderr)
	case "get":
		return runRegistryGet(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown registry subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, registryUsage())
		return 1
	}
}

func runRegistryInit(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("registry init", stderr, registryUsage)
	var (
		keyPath      string
		feeBps       uint64
		disputeFee   string
		discountNFT  string
		arbitrator   string
		feeRecipient string
	)
	fs.StringVar(&keyPath, "key", "", "seller keystore")
	fs.Uint64Var(&feeBps, "fee-bps", 0, "seller fee in basis points")
	fs.StringVar(&disputeFee, "dispute-fee", "0", "balance required to open a dispute")
	fs.StringVar(&discountNFT, "discount-nft", "", "optional fee discount collection")
	fs.StringVar(&arbitrator, "arbitrator", "", "arbitrator identity")
	fs.StringVar(&feeRecipient, "fee-recipient", "", "fee recipient identity")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(arbitrator) == "" {
		return printError(stderr, "--arbitrator is required")
	}
	if strings.TrimSpace(feeRecipient) == "" {
		return printError(stderr, "--fee-recipient is required")
	}
	if feeBps > 10_000 {
		return printError(stderr, "--fee-bps must not exceed 10000")
	}
	params := map[string]interface{}{
		"feeBps":       feeBps,
		"disputeFee":   strings.TrimSpace(disputeFee),
		"arbitrator":   strings.TrimSpace(arbitrator),
		"feeRecipient": strings.TrimSpace(feeRecipient),
	}
	if nft := strings.TrimSpace(discountNFT); nft != "" {
		params["feeDiscountNft"] = nft
	}
	return callSigned(stdout, stderr, keyPath, "escrow_initialize", params)
}

func runRegistryGet(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("registry get", stderr, registryUsage)
	var seller string
	fs.StringVar(&seller, "seller", "", "seller identity")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(seller) == "" {
		return printError(stderr, "--seller is required")
	}
	return call(stdout, stderr, "escrow_getRegistry", map[string]string{"seller": strings.TrimSpace(seller)})
}

func runPoolCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, poolUsage())
		return 1
	}
	switch args[0] {
	case "deposit", "withdraw":
		return runPoolTransfer(args[0], args[1:], stdout, stderr)
	case "balance":
		return runPoolBalance(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown pool subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, poolUsage())
		return 1
	}
}

func runPoolTransfer(action string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("pool "+action, stderr, poolUsage)
	var keyPath, seller, amount, asset string
	fs.StringVar(&keyPath, "key", "", "signer keystore")
	fs.StringVar(&seller, "seller", "", "seller whose pool is credited or debited")
	fs.StringVar(&amount, "amount", "", "amount in base units")
	fs.StringVar(&asset, "asset", "", "token asset; native when empty")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(seller) == "" {
		return printError(stderr, "--seller is required")
	}
	if err := requireAmount(amount); err != nil {
		return printError(stderr, err.Error())
	}
	method := "escrow_depositToPool"
	if action == "withdraw" {
		method = "escrow_withdrawFromPool"
	}
	return callSigned(stdout, stderr, keyPath, method, withAsset(map[string]interface{}{
		"seller": strings.TrimSpace(seller),
		"amount": strings.TrimSpace(amount),
	}, asset))
}

func runPoolBalance(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("pool balance", stderr, poolUsage)
	var seller, asset string
	fs.StringVar(&seller, "seller", "", "seller identity")
	fs.StringVar(&asset, "asset", "", "token asset; native when empty")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(seller) == "" {
		return printError(stderr, "--seller is required")
	}
	return call(stdout, stderr, "escrow_getPoolBalance", withAsset(map[string]interface{}{
		"seller": strings.TrimSpace(seller),
	}, asset))
}

func runOrderCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, orderUsage())
		return 1
	}
	switch args[0] {
	case "create":
		return runOrderCreate(args[1:], stdout, stderr)
	case "deposit":
		return runOrderDeposit(args[1:], stdout, stderr)
	case "paid":
		return runOrderAction("order paid", "escrow_markAsPaid", args[1:], stdout, stderr)
	case "release":
		return runOrderRelease(args[1:], stdout, stderr)
	case "buyer-cancel":
		return runOrderAction("order buyer-cancel", "escrow_buyerCancel", args[1:], stdout, stderr)
	case "seller-cancel":
		return runOrderAction("order seller-cancel", "escrow_sellerCancel", args[1:], stdout, stderr)
	case "dispute":
		return runOrderAction("order dispute", "escrow_openDispute", args[1:], stdout, stderr)
	case "resolve":
		return runOrderResolve(args[1:], stdout, stderr)
	case "get":
		return runOrderQuery("order get", "escrow_getOrder", args[1:], stdout, stderr)
	case "history":
		return runOrderQuery("order history", "escrow_orderHistory", args[1:], stdout, stderr)
	case "list":
		return runOrderList(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown order subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, orderUsage())
		return 1
	}
}

func runOrderCreate(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("order create", stderr, orderUsage)
	var (
		keyPath   string
		orderID   string
		seller    string
		buyer     string
		partner   string
		amount    string
		asset     string
		initiator string
		funding   string
		waiting   int64
		automatic bool
	)
	fs.StringVar(&keyPath, "key", "", "initiator keystore")
	fs.StringVar(&orderID, "id", "", "order id, unique per seller")
	fs.StringVar(&seller, "seller", "", "seller identity")
	fs.StringVar(&buyer, "buyer", "", "buyer identity")
	fs.StringVar(&partner, "partner", "", "optional partner identity")
	fs.StringVar(&amount, "amount", "", "trade amount in base units")
	fs.StringVar(&asset, "asset", "", "token asset; native when empty")
	fs.StringVar(&initiator, "initiator", "seller", "seller or buyer")
	fs.StringVar(&funding, "funding", "wallet", "wallet or pool")
	fs.Int64Var(&waiting, "waiting", 0, "seconds before the seller may cancel")
	fs.BoolVar(&automatic, "auto", false, "fund the order on creation")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	switch {
	case strings.TrimSpace(orderID) == "":
		return printError(stderr, "--id is required")
	case strings.TrimSpace(seller) == "":
		return printError(stderr, "--seller is required")
	case strings.TrimSpace(buyer) == "":
		return printError(stderr, "--buyer is required")
	case waiting <= 0:
		return printError(stderr, "--waiting must be positive")
	}
	if err := requireAmount(amount); err != nil {
		return printError(stderr, err.Error())
	}
	params := withAsset(map[string]interface{}{
		"orderId":           strings.TrimSpace(orderID),
		"seller":            strings.TrimSpace(seller),
		"buyer":             strings.TrimSpace(buyer),
		"amount":            strings.TrimSpace(amount),
		"sellerWaitingTime": waiting,
		"automaticEscrow":   automatic,
	}, asset)
	setIfPresent(params, "partner", partner)
	params["initiator"] = strings.TrimSpace(initiator)
	params["funding"] = strings.TrimSpace(funding)
	return callSigned(stdout, stderr, keyPath, "escrow_createOrder", params)
}

func runOrderDeposit(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("order deposit", stderr, orderUsage)
	var keyPath, seller, orderID, amount, asset string
	var instant bool
	fs.StringVar(&keyPath, "key", "", "seller keystore")
	fs.StringVar(&seller, "seller", "", "seller identity")
	fs.StringVar(&orderID, "id", "", "order id")
	fs.StringVar(&amount, "amount", "", "deposit amount in base units")
	fs.StringVar(&asset, "asset", "", "token asset; native when empty")
	fs.BoolVar(&instant, "instant", false, "mark the order paid immediately")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	ref, err := orderRef(seller, orderID)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := requireAmount(amount); err != nil {
		return printError(stderr, err.Error())
	}
	ref["amount"] = strings.TrimSpace(amount)
	if instant {
		ref["instant"] = true
	}
	return callSigned(stdout, stderr, keyPath, "escrow_depositToOrder", withAsset(ref, asset))
}

func runOrderAction(name, method string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(name, stderr, orderUsage)
	var keyPath, seller, orderID string
	fs.StringVar(&keyPath, "key", "", "signer keystore")
	fs.StringVar(&seller, "seller", "", "seller identity")
	fs.StringVar(&orderID, "id", "", "order id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	ref, err := orderRef(seller, orderID)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return callSigned(stdout, stderr, keyPath, method, ref)
}

func runOrderRelease(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("order release", stderr, orderUsage)
	var keyPath, seller, orderID, buyer, feeRecipient string
	fs.StringVar(&keyPath, "key", "", "seller keystore")
	fs.StringVar(&seller, "seller", "", "seller identity")
	fs.StringVar(&orderID, "id", "", "order id")
	fs.StringVar(&buyer, "buyer", "", "buyer identity recorded on the order")
	fs.StringVar(&feeRecipient, "fee-recipient", "", "fee recipient recorded on the registry")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	ref, err := orderRef(seller, orderID)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if strings.TrimSpace(buyer) == "" || strings.TrimSpace(feeRecipient) == "" {
		return printError(stderr, "--buyer and --fee-recipient are required")
	}
	ref["buyer"] = strings.TrimSpace(buyer)
	ref["feeRecipient"] = strings.TrimSpace(feeRecipient)
	return callSigned(stdout, stderr, keyPath, "escrow_release", ref)
}

func runOrderResolve(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("order resolve", stderr, orderUsage)
	var keyPath, seller, orderID, winner string
	fs.StringVar(&keyPath, "key", "", "arbitrator keystore")
	fs.StringVar(&seller, "seller", "", "seller identity")
	fs.StringVar(&orderID, "id", "", "order id")
	fs.StringVar(&winner, "winner", "", "seller or buyer identity awarded the funds")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	ref, err := orderRef(seller, orderID)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if strings.TrimSpace(winner) == "" {
		return printError(stderr, "--winner is required")
	}
	ref["winner"] = strings.TrimSpace(winner)
	return callSigned(stdout, stderr, keyPath, "escrow_resolveDispute", ref)
}

func runOrderQuery(name, method string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(name, stderr, orderUsage)
	var seller, orderID string
	fs.StringVar(&seller, "seller", "", "seller identity")
	fs.StringVar(&orderID, "id", "", "order id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	ref, err := orderRef(seller, orderID)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return call(stdout, stderr, method, ref)
}

func runOrderList(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("order list", stderr, orderUsage)
	var party string
	var limit int
	fs.StringVar(&party, "party", "", "seller or buyer identity")
	fs.IntVar(&limit, "limit", 50, "maximum orders returned")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(party) == "" {
		return printError(stderr, "--party is required")
	}
	return call(stdout, stderr, "escrow_ordersByParty", map[string]interface{}{
		"party": strings.TrimSpace(party),
		"limit": limit,
	})
}

func orderRef(seller, orderID string) (map[string]interface{}, error) {
	seller = strings.TrimSpace(seller)
	orderID = strings.TrimSpace(orderID)
	if seller == "" {
		return nil, fmt.Errorf("--seller is required")
	}
	if orderID == "" {
		return nil, fmt.Errorf("--id is required")
	}
	return map[string]interface{}{"seller": seller, "orderId": orderID}, nil
}

func requireAmount(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("--amount is required")
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return fmt.Errorf("--amount must be a base-10 integer")
		}
	}
	return nil
}

func withAsset(params map[string]interface{}, asset string) map[string]interface{} {
	setIfPresent(params, "asset", asset)
	return params
}

func setIfPresent(params map[string]interface{}, key, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		params[key] = trimmed
	}
}

func registryUsage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli registry <command> [flags]

Commands:
  init  Register the signer as a seller (--key --fee-bps --arbitrator --fee-recipient)
  get   Show a seller registry (--seller)
`)
}

func poolUsage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli pool <command> [flags]

Commands:
  deposit   Credit a seller pool from the signer wallet
  withdraw  Return pooled funds to the seller wallet
  balance   Show a seller pool balance
`)
}

func orderUsage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli order <command> [flags]

Commands:
  create         Create an order (--key --id --seller --buyer --amount --waiting)
  deposit        Fund an order from the seller wallet or pool
  paid           Buyer confirms payment
  release        Seller releases funds to the buyer
  buyer-cancel   Buyer cancels and refunds the seller
  seller-cancel  Seller cancels after the waiting time
  dispute        Open a dispute as buyer or seller
  resolve        Arbitrator awards the order
  get            Show an order
  history        Show indexed events for an order
  list           List indexed orders for a party
`)
}
