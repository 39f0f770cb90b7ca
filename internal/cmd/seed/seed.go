// Package seed provisions the asset inventory from a JSON fixture file.
package seed

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

	"github.com/louisbranch/gearlocker/internal/app"
	"github.com/louisbranch/gearlocker/internal/custody"
	"github.com/louisbranch/gearlocker/internal/custody/storage"
	platformcmd "github.com/louisbranch/gearlocker/internal/platform/cmd"
)

// Config holds seed command configuration.
type Config struct {
	Storage       app.Config
	InventoryPath string `env:"GEARLOCKER_INVENTORY_PATH" envDefault:"inventory.json"`
}

// ParseConfig loads environment defaults and parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := platformcmd.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.InventoryPath, "inventory", cfg.InventoryPath, "inventory JSON file path")
	fs.StringVar(&cfg.Storage.StorageDriver, "storage-driver", cfg.Storage.StorageDriver, "storage driver (sqlite or postgres)")
	fs.StringVar(&cfg.Storage.SQLitePath, "sqlite-path", cfg.Storage.SQLitePath, "SQLite database path")
	fs.StringVar(&cfg.Storage.PostgresDSN, "postgres-dsn", cfg.Storage.PostgresDSN, "Postgres connection string")
	if err := platformcmd.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type inventoryItem struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status,omitempty"`
	HolderID    string `json:"holder_id,omitempty"`
}

// Run loads the inventory file and provisions each asset. Existing assets are
// skipped so reseeding never clobbers live custody state.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}

	items, err := loadInventory(cfg.InventoryPath)
	if err != nil {
		return err
	}

	store, err := app.OpenStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open custody storage: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			fmt.Fprintf(out, "close storage: %v\n", closeErr)
		}
	}()

	created := 0
	skipped := 0
	for _, item := range items {
		asset, err := toAsset(item)
		if err != nil {
			return fmt.Errorf("inventory item %q: %w", item.ID, err)
		}
		if err := store.PutAsset(ctx, asset); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				skipped++
				fmt.Fprintf(out, "skip %s: already provisioned\n", asset.ID)
				continue
			}
			return fmt.Errorf("provision asset %s: %w", asset.ID, err)
		}
		created++
		fmt.Fprintf(out, "provision %s (%s)\n", asset.ID, asset.DisplayName)
	}
	fmt.Fprintf(out, "done: %d provisioned, %d skipped\n", created, skipped)
	return nil
}

func loadInventory(path string) ([]inventoryItem, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("inventory path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory file: %w", err)
	}
	var items []inventoryItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse inventory file: %w", err)
	}
	if len(items) == 0 {
		return nil, errors.New("inventory file lists no assets")
	}
	return items, nil
}

func toAsset(item inventoryItem) (storage.Asset, error) {
	id := strings.TrimSpace(item.ID)
	if id == "" {
		return storage.Asset{}, errors.New("id is required")
	}
	displayName := strings.TrimSpace(item.DisplayName)
	if displayName == "" {
		return storage.Asset{}, errors.New("display name is required")
	}

	status := custody.StatusAvailable
	if raw := strings.TrimSpace(item.Status); raw != "" {
		normalized, ok := custody.NormalizeStatus(raw)
		if !ok {
			return storage.Asset{}, fmt.Errorf("status %q is not known", raw)
		}
		status = normalized
	}

	holderID := strings.TrimSpace(item.HolderID)
	if (status == custody.StatusHeld) != (holderID != "") {
		return storage.Asset{}, fmt.Errorf("status %s and holder %q violate the custody invariant", status, holderID)
	}

	now := time.Now().UTC()
	asset := storage.Asset{
		ID:          id,
		DisplayName: displayName,
		Status:      status,
		HolderID:    holderID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if status == custody.StatusHeld {
		asset.HeldSince = &now
	}
	return asset, nil
}
