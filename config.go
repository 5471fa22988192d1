package shaledb

import (
	"os"

	"github.com/goccy/go-yaml"

	"shaledb/util"
)

// optionsFile is the YAML shape of an options file. Pointer fields
// distinguish "absent" from zero so unset keys keep their defaults.
type optionsFile struct {
	TableFileSize          *int    `yaml:"table_file_size"`
	LevelFactor            *int    `yaml:"level_factor"`
	L0CompactionTrigger    *int    `yaml:"l0_compaction_trigger"`
	L1CompactionTrigger    *int    `yaml:"l1_compaction_trigger"`
	EnableSublevel         *bool   `yaml:"enable_sublevel"`
	RotatingManifest       *bool   `yaml:"rotating_manifest"`
	EnableShouldStopBefore *bool   `yaml:"enable_should_stop_before"`
	MaxOpenFiles           *int    `yaml:"max_open_files"`
	BlockSize              *int    `yaml:"block_size"`
	Compression            *string `yaml:"compression"`
	ParanoidChecks         *bool   `yaml:"paranoid_checks"`
}

// LoadOptions reads a YAML options file and applies it over the defaults
// from NewOptions.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, util.IOErrorf(path, err.Error())
	}
	opts := NewOptions()
	if err := ApplyOptions(opts, data); err != nil {
		return nil, err
	}
	return opts, nil
}

// ApplyOptions overlays YAML data onto opts.
func ApplyOptions(opts *Options, data []byte) error {
	var f optionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return util.InvalidArgumentError("options", err.Error())
	}
	if f.TableFileSize != nil {
		opts.TableFileSize = *f.TableFileSize
	}
	if f.LevelFactor != nil {
		opts.LevelFactor = *f.LevelFactor
	}
	if f.L0CompactionTrigger != nil {
		opts.L0CompactionTrigger = *f.L0CompactionTrigger
	}
	if f.L1CompactionTrigger != nil {
		opts.L1CompactionTrigger = *f.L1CompactionTrigger
	}
	if f.EnableSublevel != nil {
		opts.EnableSublevel = *f.EnableSublevel
	}
	if f.RotatingManifest != nil {
		opts.RotatingManifest = *f.RotatingManifest
	}
	if f.EnableShouldStopBefore != nil {
		opts.EnableShouldStopBefore = *f.EnableShouldStopBefore
	}
	if f.MaxOpenFiles != nil {
		opts.MaxOpenFiles = *f.MaxOpenFiles
	}
	if f.BlockSize != nil {
		opts.BlockSize = *f.BlockSize
	}
	if f.ParanoidChecks != nil {
		opts.ParanoidChecks = *f.ParanoidChecks
	}
	if f.Compression != nil {
		switch *f.Compression {
		case "none":
			opts.CompressionType = NoCompression
		case "snappy":
			opts.CompressionType = SnappyCompression
		default:
			return util.InvalidArgumentError("unknown compression", *f.Compression)
		}
	}
	if err := validateOptions(opts); err != nil {
		return err
	}
	return nil
}

func validateOptions(opts *Options) error {
	if opts.TableFileSize <= 0 {
		return util.InvalidArgumentError("table_file_size must be positive")
	}
	if opts.LevelFactor < 2 {
		return util.InvalidArgumentError("level_factor must be at least 2")
	}
	if opts.L0CompactionTrigger < 1 {
		return util.InvalidArgumentError("l0_compaction_trigger must be at least 1")
	}
	if opts.L1CompactionTrigger < 1 {
		return util.InvalidArgumentError("l1_compaction_trigger must be at least 1")
	}
	return nil
}
