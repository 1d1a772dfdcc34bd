// ==================================
// File: internal/wallet/wallet.go
// ==================================
package wallet

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
)

// Entry is one configured wallet.
type Entry struct {
	UserID  string            `mapstructure:"user_id"`
	Network domain.Network    `mapstructure:"network"`
	Address string            `mapstructure:"address"`
	Type    domain.WalletType `mapstructure:"type"`
	// Autonomous allows unattended trading from an external wallet.
	Autonomous bool `mapstructure:"autonomous"`
	// PrivateKey is an optional base58 Solana key; the address is derived from it.
	PrivateKey string `mapstructure:"private_key"`
}

// Wallet converts the entry to the domain view.
func (e Entry) Wallet() domain.Wallet {
	t := e.Type
	if t == "" {
		t = domain.WalletInternal
	}
	return domain.Wallet{Address: e.Address, Network: e.Network, Type: t}
}

// Normalize derives the address from a private key when needed and
// validates the result.
func (e Entry) Normalize() (Entry, error) {
	if e.UserID == "" {
		return e, fmt.Errorf("wallet %q: missing user id", e.Address)
	}
	n, err := domain.ParseNetwork(string(e.Network))
	if err != nil {
		return e, err
	}
	e.Network = n
	if e.Type == "" {
		e.Type = domain.WalletInternal
	}
	if e.Type != domain.WalletInternal && e.Type != domain.WalletConnect {
		return e, fmt.Errorf("wallet %q: unknown type %q", e.Address, e.Type)
	}

	if e.PrivateKey != "" {
		if n != domain.NetworkSolana {
			return e, fmt.Errorf("wallet for user %s: private keys are only supported on solana", e.UserID)
		}
		pub, err := PublicKeyFromPrivate(e.PrivateKey)
		if err != nil {
			return e, err
		}
		if e.Address != "" && e.Address != pub.String() {
			return e, fmt.Errorf("wallet %s: address does not match private key", e.Address)
		}
		e.Address = pub.String()
		// The key is only needed to derive the address.
		e.PrivateKey = ""
	}

	if err := domain.ValidateAddress(n, e.Address); err != nil {
		return e, err
	}
	return e, nil
}

// PublicKeyFromPrivate decodes a base58 ed25519 private key and returns its
// public key.
func PublicKeyFromPrivate(privateKeyBase58 string) (solana.PublicKey, error) {
	privateKeyBytes, err := base58.Decode(privateKeyBase58)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(privateKeyBytes) != 64 {
		return solana.PublicKey{}, fmt.Errorf("invalid private key length: expected 64 bytes, got %d", len(privateKeyBytes))
	}
	return solana.PrivateKey(privateKeyBytes).PublicKey(), nil
}

// LoadWallets reads wallets from a CSV file with the header
// user_id,network,address,type,autonomous. The address column may hold a
// base58 Solana private key instead of an address.
func LoadWallets(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("CSV file is empty or missing data")
	}

	var entries []Entry
	for i, record := range records[1:] {
		if len(record) < 3 {
			return nil, fmt.Errorf("line %d: expected at least 3 columns, got %d", i+2, len(record))
		}
		e := Entry{
			UserID:  strings.TrimSpace(record[0]),
			Network: domain.Network(strings.TrimSpace(record[1])),
		}
		value := strings.TrimSpace(record[2])
		if _, err := PublicKeyFromPrivate(value); err == nil {
			e.PrivateKey = value
		} else {
			e.Address = value
		}
		if len(record) > 3 {
			e.Type = domain.WalletType(strings.TrimSpace(record[3]))
		}
		if len(record) > 4 {
			e.Autonomous, _ = strconv.ParseBool(strings.TrimSpace(record[4]))
		}

		norm, err := e.Normalize()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+2, err)
		}
		entries = append(entries, norm)
	}
	return entries, nil
}
