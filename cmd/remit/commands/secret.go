package commands

import (
	"context"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/remit/accounts"
	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/logger"
	"github.com/teranos/remit/pulse/schedule"
	"github.com/teranos/remit/secret"
	"github.com/teranos/remit/sym"
)

// SecretCmd manages cached signing PINs
var SecretCmd = &cobra.Command{
	Use:   "secret",
	Short: sym.Secret + " Manage cached signing PINs",
	Long: sym.Secret + ` secret — Manage cached signing PINs

Unattended settlement needs the payer's PIN to unseal their signing key.
"put" checks the PIN against the sealed key, caches it for secret.ttl_seconds
and marks the payer's schedules verified. "evict" drops it again.

The memory backend only lives as long as this process; use the redis
backend so a running daemon sees PINs cached here.

Examples:
  remit secret put <payer-id>
  remit secret evict <payer-id>`,
}

var secretPutCmd = &cobra.Command{
	Use:   "put <payer-id>",
	Short: "Verify and cache a payer's PIN",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretPut,
}

var secretEvictCmd = &cobra.Command{
	Use:   "evict <payer-id>",
	Short: "Drop a payer's cached PIN",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretEvict,
}

func init() {
	secretPutCmd.Flags().String("pin", "", "Signing PIN (prompted when empty)")

	SecretCmd.AddCommand(secretPutCmd)
	SecretCmd.AddCommand(secretEvictCmd)
}

// authorizePayer checks pin against the payer's sealed key, caches it and
// marks every live schedule of the payer verified. Returns how many
// schedules were marked.
func authorizePayer(ctx context.Context, keys *secret.Materializer, payers accounts.Reader, schedules *schedule.Store, payerID, pin string, now time.Time) (int, error) {
	payer, err := payers.GetPayer(ctx, payerID)
	if err != nil {
		return 0, err
	}
	if err := keys.Verify(payer.Material(), pin); err != nil {
		return 0, errors.Wrapf(err, "pin rejected for payer %s", payerID)
	}
	if err := keys.Remember(ctx, payerID, pin); err != nil {
		return 0, err
	}

	list, err := schedules.List(ctx, schedule.ListOptions{PayerID: payerID})
	if err != nil {
		return 0, err
	}
	marked := 0
	for _, sc := range list {
		if sc.Status.IsTerminal() || sc.SecretVerified {
			continue
		}
		if err := schedules.SetSecretVerified(ctx, sc.ID, true, now); err != nil {
			return marked, err
		}
		marked++
	}
	return marked, nil
}

func runSecretPut(cmd *cobra.Command, args []string) error {
	pin, err := promptSecret(cmd, "pin", "PIN")
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Secret.Backend != "redis" {
		pterm.Warning.Println("secret.backend is memory: the PIN is forgotten when this command exits")
	}

	marked, err := authorizePayer(cmd.Context(), a.keys, a.accounts, a.schedules, args[0], pin, time.Now().UTC())
	if err != nil {
		return err
	}
	a.log.Infow("Cached PIN", logger.FieldPayerID, args[0], logger.FieldCount, marked)
	pterm.Success.Printf("PIN cached for %v; %d schedule(s) newly verified\n", a.cfg.SecretTTL(), marked)
	return nil
}

func runSecretEvict(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.keys.Forget(cmd.Context(), args[0]); err != nil {
		return err
	}
	pterm.Success.Printf("Evicted cached PIN for payer %s\n", args[0])
	return nil
}
