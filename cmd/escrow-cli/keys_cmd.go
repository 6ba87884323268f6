package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"peerescrow/crypto"
)

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr, keygenUsage)
	var (
		out        string
		importFile string
		light      bool
		force      bool
	)
	fs.StringVar(&out, "out", "", "keystore file to write")
	fs.StringVar(&importFile, "import", "", "file holding a hex private key to encrypt instead of generating one")
	fs.BoolVar(&light, "light", false, "use light scrypt parameters (development only)")
	fs.BoolVar(&force, "force", false, "overwrite an existing keystore")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return printError(stderr, "--out is required")
	}
	if !force {
		if _, err := os.Stat(out); err == nil {
			return printError(stderr, fmt.Sprintf("%s already exists; pass --force to overwrite", out))
		}
	}
	pass, err := keystorePassphrase.Confirming().Get()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := resolveKey(importFile)
	if err != nil {
		return printError(stderr, err.Error())
	}
	strength := crypto.KeystoreStandard
	if light {
		strength = crypto.KeystoreLight
	}
	if err := crypto.SaveToKeystore(out, key, pass, strength); err != nil {
		return printError(stderr, fmt.Sprintf("write keystore: %v", err))
	}
	fmt.Fprintf(stdout, "Identity: %s\nKeystore: %s\n", key.Identity(), out)
	return 0
}

func resolveKey(importFile string) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(importFile) == "" {
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
		return key, nil
	}
	raw, err := os.ReadFile(importFile)
	if err != nil {
		return nil, fmt.Errorf("read import file: %w", err)
	}
	return crypto.PrivateKeyFromHex(string(raw))
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr, keygenUsage)
	var keyPath string
	fs.StringVar(&keyPath, "key", "", "keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := loadKey(keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, key.Identity().String())
	return 0
}

func keygenUsage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli keygen --out FILE [--import HEXFILE] [--light] [--force]
  escrow-cli address --key FILE
`)
}
