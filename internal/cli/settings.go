package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/osmupdate/internal/config"
	"github.com/roach88/osmupdate/internal/converter"
	"github.com/roach88/osmupdate/internal/journal"
)

// SyncOptions holds the flags shared by update and plan.
type SyncOptions struct {
	*RootOptions

	BaseURL          string
	BaseURLSuffix    string
	MaxDays          int
	MaxMerge         int
	TempDir          string
	KeepTempFiles    bool
	CompressionLevel int
	BBox             string
	BorderPolygon    string
	Converter        string
	MetricsFile      string

	Minute   bool
	Hour     bool
	Day      bool
	Sporadic bool

	// Runner and IDs replace the converter process and the UUIDv7 run ids
	// (for testing). Nil uses the defaults.
	Runner converter.Runner
	IDs    journal.RunIDGenerator
}

func bindSyncFlags(cmd *cobra.Command, opts *SyncOptions) {
	def := config.Default()
	fs := cmd.Flags()
	fs.StringVar(&opts.BaseURL, "base-url", def.BaseURL, `replication base URL, or "mirror"`)
	fs.StringVar(&opts.BaseURLSuffix, "base-url-suffix", "", `suffix after the tier directory, e.g. "-replicate"`)
	fs.IntVar(&opts.MaxDays, "max-days", def.MaxDays, "maximum update range in days")
	fs.IntVar(&opts.MaxMerge, "max-merge", def.MaxMerge, "maximum number of changefiles merged in one converter call")
	fs.StringVarP(&opts.TempDir, "tempfiles", "t", def.TempDir, "directory caching downloaded changefiles")
	fs.BoolVar(&opts.KeepTempFiles, "keep-tempfiles", false, "keep downloaded changefiles after a successful run")
	fs.IntVar(&opts.CompressionLevel, "compression-level", def.CompressionLevel, "gzip level for .gz output (1-9)")
	fs.StringVarP(&opts.BBox, "bbox", "b", "", "limit to a bounding box: west,south,east,north")
	fs.StringVarP(&opts.BorderPolygon, "border-polygon", "B", "", "limit to a border polygon file")
	fs.StringVar(&opts.Converter, "converter", def.Converter, "converter program")
	fs.StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	fs.BoolVar(&opts.Minute, "minute", false, "use minutely changefiles")
	fs.BoolVar(&opts.Hour, "hour", false, "use hourly changefiles")
	fs.BoolVar(&opts.Day, "day", false, "use daily changefiles")
	fs.BoolVar(&opts.Sporadic, "sporadic", false, "use a feed without minute/hour/day subdirectories")
}

// loadConfig reads the config file and applies the flags the user set.
func loadConfig(cmd *cobra.Command, opts *SyncOptions) (*config.Config, error) {
	fs := cmd.Flags()
	var overrides []config.Override
	set := func(name string, apply config.Override) {
		if fs.Changed(name) {
			overrides = append(overrides, apply)
		}
	}
	set("base-url", func(c *config.Config) { c.BaseURL = opts.BaseURL })
	set("base-url-suffix", func(c *config.Config) { c.BaseURLSuffix = opts.BaseURLSuffix })
	set("max-days", func(c *config.Config) { c.MaxDays = opts.MaxDays })
	set("max-merge", func(c *config.Config) { c.MaxMerge = opts.MaxMerge })
	set("tempfiles", func(c *config.Config) { c.TempDir = opts.TempDir })
	set("keep-tempfiles", func(c *config.Config) { c.KeepTempFiles = opts.KeepTempFiles })
	set("compression-level", func(c *config.Config) { c.CompressionLevel = opts.CompressionLevel })
	set("bbox", func(c *config.Config) { c.BBox = opts.BBox })
	set("border-polygon", func(c *config.Config) { c.BorderPolygon = opts.BorderPolygon })
	set("converter", func(c *config.Config) { c.Converter = opts.Converter })
	set("metrics-file", func(c *config.Config) { c.MetricsFile = opts.MetricsFile })

	var tiers []string
	for _, t := range []struct {
		on   bool
		name string
	}{
		{opts.Minute, "minutely"},
		{opts.Hour, "hourly"},
		{opts.Day, "daily"},
		{opts.Sporadic, "sporadic"},
	} {
		if t.on {
			tiers = append(tiers, t.name)
		}
	}
	if len(tiers) > 0 {
		overrides = append(overrides, func(c *config.Config) { c.Tiers = tiers })
	}

	return config.Load(opts.ConfigPath, overrides...)
}
