package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/storage/filekv"
)

// SchemaVersion is the layout of cached price payloads. Bump it whenever
// models.PriceSeries or models.CacheEntry change shape.
const SchemaVersion = "1"

const (
	namespaceMeta    = "meta"
	schemaVersionKey = "schema_version"
)

// cacheDirs lists every cache directory the application writes, resolved against
// the data directory.
func cacheDirs(config *common.Config) []string {
	dirs := []string{
		ResolvedCacheDir,
		config.Providers.Yahoo.CacheDir,
		config.Providers.Stooq.CacheDir,
		config.Providers.EODHD.CacheDir,
		config.Providers.AlphaVantage.CacheDir,
	}
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if !filepath.IsAbs(d) {
			d = config.DataPath(d)
		}
		out = append(out, d)
	}
	return out
}

// checkSchemaVersion compares the stored cache schema version with SchemaVersion.
// On mismatch, or when none is stored, every cache directory is purged and the new
// version recorded. Published artifacts and the ledger are never touched.
// Returns true if a purge occurred.
func checkSchemaVersion(ctx context.Context, data *filekv.Store, config *common.Config, logger *common.Logger) (bool, error) {
	stored, err := data.Get(ctx, namespaceMeta, schemaVersionKey)
	switch {
	case err == nil && string(stored) == SchemaVersion:
		logger.Debug().Str("version", SchemaVersion).Msg("Cache schema version matches")
		return false, nil
	case err == nil:
		logger.Warn().Str("stored", string(stored)).Str("current", SchemaVersion).
			Msg("Cache schema version mismatch, purging caches")
	case errors.Is(err, common.ErrNotFound):
		logger.Info().Str("current", SchemaVersion).Msg("Cache schema version not found, initializing")
	default:
		return false, fmt.Errorf("failed to read cache schema version: %w", err)
	}

	purged := 0
	for _, dir := range cacheDirs(config) {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return false, fmt.Errorf("failed to purge cache %s: %w", dir, err)
		}
		purged++
	}

	if err := data.Put(ctx, namespaceMeta, schemaVersionKey, []byte(SchemaVersion)); err != nil {
		return false, fmt.Errorf("failed to store cache schema version: %w", err)
	}

	logger.Info().Int("purged", purged).Str("new_version", SchemaVersion).Msg("Cache schema initialized")
	return purged > 0, nil
}
