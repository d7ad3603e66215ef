package cfg

import (
	"flag"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

// LoggingConfiguration controls log output
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"`
}

// EngineConfiguration tunes the in-memory structures
type EngineConfiguration struct {
	BTreeDegree int `toml:"btree_degree"`
}

// BackstoreConfiguration controls the persistent backstore
type BackstoreConfiguration struct {
	Path         string `toml:"path"`
	CacheSizeMB  int    `toml:"cache_size_mb"`
	RowCacheRows int    `toml:"row_cache_rows"`
	SyncWrites   bool   `toml:"sync_writes"`
}

// TelemetryConfiguration controls the prometheus endpoint
type TelemetryConfiguration struct {
	Enable bool   `toml:"enable"`
	Bind   string `toml:"bind"`
}

// Configuration is the root config object
type Configuration struct {
	Logging   LoggingConfiguration   `toml:"logging"`
	Engine    EngineConfiguration    `toml:"engine"`
	Backstore BackstoreConfiguration `toml:"backstore"`
	Telemetry TelemetryConfiguration `toml:"telemetry"`
}

var ConfigPathFlag = flag.String("config", "fieldstone.toml", "Path to TOML configuration file")
var VerboseFlag = flag.Bool("verbose", false, "Log debug level output")

// Config holds the active configuration. Load overlays a TOML file on
// these defaults.
var Config = &Configuration{
	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},
	Engine: EngineConfiguration{
		BTreeDegree: 8,
	},
	Backstore: BackstoreConfiguration{
		Path:         "fieldstone-data",
		CacheSizeMB:  64,
		RowCacheRows: 4096,
		SyncWrites:   false,
	},
	Telemetry: TelemetryConfiguration{
		Enable: false,
		Bind:   "0.0.0.0:9010",
	},
}

// Load reads the TOML configuration at path over the defaults. A missing
// file keeps the defaults.
func Load(path string) error {
	if _, err := os.Stat(path); err != nil {
		log.Warn().Str("path", path).Msg("Config file not found, using defaults")
		return nil
	}

	if _, err := toml.DecodeFile(path, Config); err != nil {
		return fmt.Errorf("unable to parse config file %s: %w", path, err)
	}

	if *VerboseFlag {
		Config.Logging.Verbose = true
	}

	return nil
}

// Validate rejects configurations the engine cannot run with.
func Validate() error {
	if Config.Engine.BTreeDegree < 2 {
		return fmt.Errorf("engine.btree_degree must be at least 2, got %d", Config.Engine.BTreeDegree)
	}
	if Config.Backstore.CacheSizeMB <= 0 {
		return fmt.Errorf("backstore.cache_size_mb must be positive, got %d", Config.Backstore.CacheSizeMB)
	}
	if Config.Backstore.RowCacheRows <= 0 {
		return fmt.Errorf("backstore.row_cache_rows must be positive, got %d", Config.Backstore.RowCacheRows)
	}
	switch Config.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", Config.Logging.Format)
	}
	return nil
}
