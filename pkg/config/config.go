package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/forest6511/securefolder/pkg/crypto"
)

// VaultConfig is the single live configuration record of an installation.
type VaultConfig struct {
	PasswordHash  string        // hex SHA-256 digest, never cleartext
	VaultPath     string        // absolute path of the vault directory
	SchemaVersion SchemaVersion // record schema version
	CreatedAt     time.Time     // second precision, UTC
	MigratedFrom  string        // legacy vault path this record was migrated from
}

// NewConfig returns a record at the current schema version.
func NewConfig(passwordHash, vaultPath string) *VaultConfig {
	return &VaultConfig{
		PasswordHash:  passwordHash,
		VaultPath:     vaultPath,
		SchemaVersion: CurrentSchemaVersion,
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}
}

// Clone returns a copy of the record.
func (c *VaultConfig) Clone() *VaultConfig {
	clone := *c
	return &clone
}

// record is the wire shape of VaultConfig.
type record struct {
	PasswordHash string        `json:"passwordHash"`
	VaultPath    string        `json:"vaultPath"`
	Version      SchemaVersion `json:"version"`
	CreatedAt    epochSeconds  `json:"createdAt"`
	MigratedFrom string        `json:"migratedFrom,omitempty"`
}

// MarshalJSON encodes the record in its persisted form.
func (c VaultConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(record{
		PasswordHash: c.PasswordHash,
		VaultPath:    c.VaultPath,
		Version:      c.SchemaVersion,
		CreatedAt:    epochSeconds(c.CreatedAt),
		MigratedFrom: c.MigratedFrom,
	})
}

// UnmarshalJSON decodes the persisted form without validating it.
func (c *VaultConfig) UnmarshalJSON(data []byte) error {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*c = VaultConfig{
		PasswordHash:  r.PasswordHash,
		VaultPath:     r.VaultPath,
		SchemaVersion: r.Version,
		CreatedAt:     time.Time(r.CreatedAt),
		MigratedFrom:  r.MigratedFrom,
	}
	return nil
}

// ParseError reports a configuration record that cannot be used.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: invalid record: %v", e.Err)
	}
	return fmt.Sprintf("config: invalid record %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Validation errors wrapped by ParseError.
var (
	ErrMissingPasswordHash = errors.New("missing passwordHash")
	ErrMissingVaultPath    = errors.New("missing vaultPath")
	ErrMissingVersion      = errors.New("missing version")
	ErrUnsupportedVersion  = errors.New("unsupported schema version")
)

// ParseConfig decodes, validates and upgrades a record.
func ParseConfig(data []byte) (*VaultConfig, error) {
	var cfg VaultConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ParseError{Err: err}
	}
	if err := upgrade(&cfg); err != nil {
		return nil, &ParseError{Err: err}
	}
	return &cfg, nil
}

// Validate checks the required fields.
func (c *VaultConfig) Validate() error {
	if c.PasswordHash == "" {
		return ErrMissingPasswordHash
	}
	if err := crypto.ValidateDigest(c.PasswordHash); err != nil {
		return err
	}
	if strings.TrimSpace(c.VaultPath) == "" {
		return ErrMissingVaultPath
	}
	if c.SchemaVersion == 0 {
		return ErrMissingVersion
	}
	if c.SchemaVersion < 0 || c.SchemaVersion > CurrentSchemaVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, c.SchemaVersion)
	}
	return nil
}

// SchemaVersion is the integer schema version of a record. It is persisted
// as a "<major>.0" string and accepts strings or numbers on decode.
type SchemaVersion int

// MarshalJSON writes the version as a string.
func (v SchemaVersion) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("%d.0", int(v)))
}

// UnmarshalJSON accepts "2.0", "2" or 2.
func (v *SchemaVersion) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = 0
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		major, _, _ := strings.Cut(strings.TrimSpace(s), ".")
		n, err := strconv.Atoi(major)
		if err != nil {
			return fmt.Errorf("invalid version %q", s)
		}
		*v = SchemaVersion(n)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("invalid version %s", data)
	}
	*v = SchemaVersion(math.Floor(f))
	return nil
}

// epochSeconds persists a time as whole seconds since the Unix epoch. The
// zero time is written as 0.
type epochSeconds time.Time

func (e epochSeconds) MarshalJSON() ([]byte, error) {
	t := time.Time(e)
	if t.IsZero() {
		return []byte("0"), nil
	}
	return []byte(strconv.FormatInt(t.Unix(), 10)), nil
}

// UnmarshalJSON accepts integer or fractional seconds; fractions are dropped.
func (e *epochSeconds) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*e = epochSeconds{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("invalid createdAt %s", data)
	}
	*e = epochSeconds(secondsToTime(f))
	return nil
}

func secondsToTime(f float64) time.Time {
	if f <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(f), 0).UTC()
}
