package config

import "fmt"

// Schema version constants
const (
	// SchemaVersion1 is the gen 1 record: vault path and digest only
	SchemaVersion1 SchemaVersion = 1
	// SchemaVersion2 records migration provenance (migratedFrom)
	SchemaVersion2 SchemaVersion = 2
	// CurrentSchemaVersion is the version written by Save
	CurrentSchemaVersion = SchemaVersion2
)

// upgrade migrates a record in memory to CurrentSchemaVersion. Steps run in
// order and each one is idempotent. The upgraded record is persisted by the
// next Save.
func upgrade(cfg *VaultConfig) error {
	if cfg.SchemaVersion < SchemaVersion2 {
		if err := upgradeToV2(cfg); err != nil {
			return fmt.Errorf("config: upgrade to v2 failed: %w", err)
		}
	}
	return nil
}

// upgradeToV2 adds migration provenance. v1 records predate migration, so
// there is nothing to carry over.
func upgradeToV2(cfg *VaultConfig) error {
	cfg.MigratedFrom = ""
	cfg.SchemaVersion = SchemaVersion2
	return nil
}
