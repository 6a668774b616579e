package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/IDR/mrxs2ometiff/pkg/config"
	"github.com/IDR/mrxs2ometiff/pkg/convert"
	"github.com/IDR/mrxs2ometiff/pkg/logging"
)

func NewRoot(ctx context.Context, gitsha string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mrxs2ometiff <input-file>",
		Short: "convert a whole-slide image into a pyramidal OME-TIFF",
		Long:  "reads a whole-slide source image, generates a multi-resolution pyramid by box-filter downsampling and writes a tiled BigTIFF container",
		Args:  cobra.ExactArgs(1),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logLevel, _ := cmd.Flags().GetString("log-level")
			var level slog.Level
			if err := level.UnmarshalText([]byte(strings.ToUpper(logLevel))); err != nil {
				level = slog.LevelInfo
			}
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				level = slog.LevelDebug
			}
			var out io.Writer = os.Stdout
			if logFile, _ := cmd.Flags().GetString("log-file"); logFile != "" {
				out = logging.Rotating(logFile, 100)
			}
			slog.SetDefault(logging.Logger(out, false, level))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			cfgPath, _ := flags.GetString("config")
			cfg := config.Default()
			if cfgPath != "" {
				var err error
				if cfg, err = config.Load(cfgPath); err != nil {
					return err
				}
			}
			cfg.InputPath = args[0]
			cfg.OutputPath, _ = flags.GetString("output")
			cfg.PyramidResolutions, _ = flags.GetInt("resolutions")
			if flags.Changed("tile-width") {
				cfg.TileWidth, _ = flags.GetInt("tile-width")
			}
			if flags.Changed("tile-height") {
				cfg.TileHeight, _ = flags.GetInt("tile-height")
			}
			if flags.Changed("compression") {
				cfg.Compression, _ = flags.GetString("compression")
			}
			if flags.Changed("legacy") {
				cfg.LegacyMode, _ = flags.GetBool("legacy")
			}
			if flags.Changed("debug") {
				cfg.Debug, _ = flags.GetBool("debug")
			}

			if err := convert.Convert(ctx, cfg, slog.Default()); err != nil {
				return fmt.Errorf("convert %s: %w", cfg.InputPath, err)
			}
			return nil
		},
	}
	cmd.AddCommand(
		NewVersionCmd(ctx, gitsha),
	)
	pf := cmd.Flags()
	pf.StringP("output", "o", "", "output file path")
	pf.IntP("resolutions", "r", 0, "number of pyramid resolutions beyond the base")
	pf.IntP("tile-width", "w", config.DefaultTileWidth, "tile width in pixels")
	pf.Int("tile-height", config.DefaultTileHeight, "tile height in pixels")
	pf.StringP("compression", "c", config.DefaultCompression, "tile compression (none, deflate, jpeg, jpeg-2000)")
	pf.Bool("legacy", false, "write the legacy flat-pyramid container convention")
	pf.Bool("debug", false, "debug logging")
	pf.String("config", "", "optional YAML config file with run defaults")
	cmd.MarkFlagRequired("output")
	cmd.MarkFlagRequired("resolutions")
	ppf := cmd.PersistentFlags()
	ppf.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	ppf.String("log-file", "", "log to a size-rotated file instead of stdout")
	return cmd
}

func NewVersionCmd(ctx context.Context, gitsha string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "git sha for this build",
		Long:  "git sha for this build",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(gitsha)
		},
	}
	return cmd
}
