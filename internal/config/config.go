// Package config holds the two configuration structs a repository
// needs (SPEC_FULL.md §2.3): creation-time parameters fixed for the
// life of the repository, and per-open parameters supplied fresh each
// time a client attaches. Both follow the teacher's plain-struct-plus-
// defaulting shape (config.go's Config/defaultLogger), swapped from
// log/slog to logrus to match the rest of this module's ambient stack.
package config

import (
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/lostatc/acid-store/pkg/chunker"
	"github.com/lostatc/acid-store/pkg/compress"
	"github.com/lostatc/acid-store/pkg/crypto"
)

// RepositoryConfig configures a repository at creation time. Every
// field except PackTargetSize and Logger becomes part of the superblock
// and cannot change for the life of the repository (spec §9's
// chunking-determinism invariant). PackTargetSize applies only to the
// creating session; Open always uses a 4 MiB pack target.
type RepositoryConfig struct {
	ChunkerParams  chunker.Params    `yaml:"chunker"`
	Compression    compress.Algorithm `yaml:"compression"`
	Packing        bool              `yaml:"packing"`
	PackTargetSize int               `yaml:"pack_target_size"`
	KDFParams      crypto.KDFParams  `yaml:"kdf"`

	// Logger receives lifecycle, chunk, and recovery events (§2.1). A
	// default stderr InfoLevel logger is used when nil.
	Logger *logrus.Logger `yaml:"-"`
}

// DefaultRepositoryConfig matches spec.md's own suggested defaults:
// content-defined chunking, packing on, LZ4 compression.
func DefaultRepositoryConfig() RepositoryConfig {
	return RepositoryConfig{
		ChunkerParams:  chunker.DefaultParams,
		Compression:    compress.LZ4,
		Packing:        true,
		PackTargetSize: 4 * 1024 * 1024,
		KDFParams:      crypto.DefaultKDFParams,
	}
}

// OpenConfig configures one client's attachment to an existing
// repository (spec §5's per-open parameters: password, lock grace
// period, worker pool size).
type OpenConfig struct {
	Password         string        `yaml:"-"`
	LockGracePeriodS int           `yaml:"lock_grace_period_s"`
	ForceStaleLock   bool          `yaml:"-"`
	WorkerPoolSize   int           `yaml:"worker_pool_size"`
	Logger           *logrus.Logger `yaml:"-"`
}

// DefaultOpenConfig fills in the non-secret defaults; Password must
// still be supplied by the caller.
func DefaultOpenConfig() OpenConfig {
	return OpenConfig{
		LockGracePeriodS: 30,
		WorkerPoolSize:   4,
	}
}

func (c *RepositoryConfig) logger() *logrus.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return defaultLogger()
}

func (c *OpenConfig) logger() *logrus.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return defaultLogger()
}

// EffectiveLogger returns this config's effective logger, constructing
// the default stderr InfoLevel logger on first use if none was set
// (mirrors the teacher's defaultLogger()).
func (c *RepositoryConfig) EffectiveLogger() *logrus.Logger { return c.logger() }

// EffectiveLogger returns this config's effective logger.
func (c *OpenConfig) EffectiveLogger() *logrus.Logger { return c.logger() }

func defaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// LoadRepositoryConfig reads a YAML-encoded RepositoryConfig from
// path, for the cmd/acid-store CLI collaborator.
func LoadRepositoryConfig(path string) (RepositoryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RepositoryConfig{}, err
	}
	cfg := DefaultRepositoryConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RepositoryConfig{}, err
	}
	return cfg, nil
}

// SaveRepositoryConfig writes cfg to path as YAML.
func SaveRepositoryConfig(path string, cfg RepositoryConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
