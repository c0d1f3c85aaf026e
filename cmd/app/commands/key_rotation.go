package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	keyringService "github.com/allisson/bearertoken/internal/keyring/service"
)

// RunGenerateSpareKey computes key metadata that adds a spare signing key
// alongside the currently active one and prints a summary of it. The
// metadata is not submitted to the cluster coordination channel, so this
// node's key ring is left unchanged. If a spare already exists, the
// current ring's metadata is reported.
func RunGenerateSpareKey(ctx context.Context, km *keyringService.KeyManager, logger *slog.Logger, w io.Writer) error {
	meta, err := km.GenerateSpareKey(ctx)
	if err != nil {
		return fmt.Errorf("failed to generate spare key: %w", err)
	}

	logger.Info("spare key generated", slog.Int("key_count", len(meta.Keys)))
	fmt.Fprintf(w, "Spare key generated: %d key(s) in ring, active=%s\n", len(meta.Keys), meta.ActiveKeyHash)
	return nil
}

// RunRotateKey runs rotateKeysOnMaster's leader-only sequence: it submits
// metadata holding a spare key (generating one if the ring has none), then
// submits metadata that promotes that spare key to active.
func RunRotateKey(ctx context.Context, km *keyringService.KeyManager, logger *slog.Logger, w io.Writer) error {
	if err := km.RotateKeysOnMaster(ctx, true); err != nil {
		return fmt.Errorf("failed to rotate key: %w", err)
	}

	logger.Info("key rotated")
	fmt.Fprintln(w, "Key rotated: the former spare key is now active.")
	return nil
}

// RunPruneKeys computes key metadata that keeps the n most recently created
// signing keys plus the currently active key regardless of its age, and
// prints a summary of it. The metadata is not submitted to the cluster
// coordination channel, so this node's key ring is left unchanged.
func RunPruneKeys(ctx context.Context, km *keyringService.KeyManager, logger *slog.Logger, w io.Writer, n int) error {
	if n < 1 {
		return fmt.Errorf("keep count must be at least 1, got: %d", n)
	}

	meta, err := km.PruneKeys(ctx, n)
	if err != nil {
		return fmt.Errorf("failed to prune keys: %w", err)
	}

	logger.Info("keys pruned", slog.Int("kept", len(meta.Keys)))
	fmt.Fprintf(w, "Keys pruned: %d key(s) kept, active=%s\n", len(meta.Keys), meta.ActiveKeyHash)
	return nil
}

// RunSeedKeyMetadata publishes this node's in-memory key ring to the
// cluster coordination channel, for bootstrapping a fresh cluster where no
// node has metadata to subscribe onto yet.
func RunSeedKeyMetadata(ctx context.Context, km *keyringService.KeyManager, logger *slog.Logger, w io.Writer) error {
	meta, err := km.SeedMetadata(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed key metadata: %w", err)
	}

	logger.Info("key metadata seeded", slog.Int("key_count", len(meta.Keys)))
	fmt.Fprintf(w, "Key metadata seeded: %d key(s), active=%s\n", len(meta.Keys), meta.ActiveKeyHash)
	return nil
}
