package commands

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/teranos/remit/accounts"
	"github.com/teranos/remit/am"
	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/logger"
	"github.com/teranos/remit/secret"
	"github.com/teranos/remit/sym"
)

// AccountCmd provisions payers and payees
var AccountCmd = &cobra.Command{
	Use:   "account",
	Short: sym.Secret + " Provision payers and payees",
	Long: sym.Secret + ` account — Provision payers and payees

A payer gets a fresh ed25519 signing key sealed under a key derived from
their email, password hash and PIN. The PIN itself is never stored.

Examples:
  remit account add-payer --email a@example.com --address acct-123
  remit account add-payee --name Landlord --address acct-456`,
}

var accountAddPayerCmd = &cobra.Command{
	Use:   "add-payer",
	Short: "Create a payer with a sealed signing key",
	RunE:  runAddPayer,
}

var accountAddPayeeCmd = &cobra.Command{
	Use:   "add-payee",
	Short: "Create a payee",
	RunE:  runAddPayee,
}

func init() {
	accountAddPayerCmd.Flags().String("email", "", "Payer email (required)")
	accountAddPayerCmd.Flags().String("address", "", "Payer routing address (required)")
	accountAddPayerCmd.Flags().String("password", "", "Account password (prompted when empty)")
	accountAddPayerCmd.Flags().String("pin", "", "Signing PIN (prompted when empty)")
	_ = accountAddPayerCmd.MarkFlagRequired("email")
	_ = accountAddPayerCmd.MarkFlagRequired("address")

	accountAddPayeeCmd.Flags().String("name", "", "Display name")
	accountAddPayeeCmd.Flags().String("address", "", "Payee routing address (required)")
	_ = accountAddPayeeCmd.MarkFlagRequired("address")

	AccountCmd.AddCommand(accountAddPayerCmd)
	AccountCmd.AddCommand(accountAddPayeeCmd)
}

// promptSecret returns the flag value, or asks for it with masked input
func promptSecret(cmd *cobra.Command, flag, label string) (string, error) {
	value, _ := cmd.Flags().GetString(flag)
	if value != "" {
		return value, nil
	}
	return readSecret(label)
}

// readSecret asks for a value with masked input
func readSecret(label string) (string, error) {
	value, err := pterm.DefaultInteractiveTextInput.WithMask("*").Show(label)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", label)
	}
	if value == "" {
		return "", errors.NewInvalidRequestError("%s is required", label)
	}
	return value, nil
}

// materializer builds a key materializer without touching the PIN cache
func materializer(cfg *am.Config) (*secret.Materializer, error) {
	deriver, err := secret.DeriverByName(cfg.Secret.KeyDerivation)
	if err != nil {
		return nil, err
	}
	return secret.NewMaterializer(secret.NewMemoryCache(), deriver, cfg.SecretTTL(), logger.ComponentLogger("secret")), nil
}

func runAddPayer(cmd *cobra.Command, args []string) error {
	email, _ := cmd.Flags().GetString("email")
	address, _ := cmd.Flags().GetString("address")

	password, err := promptSecret(cmd, "password", "Password")
	if err != nil {
		return err
	}
	pin, err := promptSecret(cmd, "pin", "PIN")
	if err != nil {
		return err
	}

	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	keys, err := materializer(cfg)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "failed to hash password")
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return errors.Wrap(err, "failed to generate signing key")
	}
	sealed, err := keys.SealSigningKey(email, string(hash), pin, priv.Seed())
	if err != nil {
		return err
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	payer := &accounts.Payer{
		Email:            email,
		PasswordHash:     string(hash),
		RoutingAddress:   address,
		SealedSigningKey: sealed,
	}
	if err := accounts.NewStore(database).CreatePayer(cmd.Context(), payer); err != nil {
		return err
	}

	pterm.Success.Printf("Created payer %s\n", payer.ID)
	fmt.Printf("  Email:      %s\n", payer.Email)
	fmt.Printf("  Identity:   %s\n", payer.IdentityHash)
	fmt.Printf("  Public key: %x\n", priv.Public())
	return nil
}

func runAddPayee(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	address, _ := cmd.Flags().GetString("address")

	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	payee := &accounts.Payee{Name: name, RoutingAddress: address}
	if err := accounts.NewStore(database).CreatePayee(cmd.Context(), payee); err != nil {
		return err
	}
	pterm.Success.Printf("Created payee %s\n", payee.ID)
	return nil
}
