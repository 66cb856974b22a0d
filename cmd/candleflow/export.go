package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"candleflow/internal/adapter/export"
	"candleflow/internal/domain/model"
	"candleflow/internal/infrastructure/logger"
)

var (
	exportSymbol string
	exportTF     string
	exportFormat string
	exportDir    string
)

var exportCMD = &cobra.Command{
	Use:   "export",
	Short: "Write stored series to Parquet or JSON files",
	Long: `Export reads normalized bars from the history store. Without --symbol every
stored series is exported, one file per symbol and timeframe.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		saver := export.NewSaver(exportFormat)
		if saver == nil {
			return fmt.Errorf("unsupported format %q (use parquet or json)", exportFormat)
		}
		cfg, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

		ctx := cmd.Context()
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		targets, err := exportTargets()
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			series, err := store.Series(ctx)
			if err != nil {
				return err
			}
			for _, s := range series {
				targets = append(targets, target{s.Symbol, s.Timeframe})
			}
		}

		for _, t := range targets {
			path, n, err := export.Series(ctx, store, saver, exportDir, t.symbol, t.tf)
			if err != nil {
				return err
			}
			log.Info("series exported", "symbol", t.symbol, "timeframe", t.tf.String(), "bars", n, "path", path)
		}
		return nil
	},
}

type target struct {
	symbol string
	tf     model.Timeframe
}

func exportTargets() ([]target, error) {
	if exportSymbol == "" {
		return nil, nil
	}
	tf, err := model.ParseTimeframe(exportTF)
	if err != nil {
		return nil, err
	}
	return []target{{exportSymbol, tf}}, nil
}

func init() {
	exportCMD.Flags().StringVarP(&exportSymbol, "symbol", "s", "", "symbol to export (default: every stored series)")
	exportCMD.Flags().StringVarP(&exportTF, "tf", "t", "1m", "timeframe label used with --symbol")
	exportCMD.Flags().StringVarP(&exportFormat, "format", "f", "parquet", "parquet or json")
	exportCMD.Flags().StringVarP(&exportDir, "out", "o", "export", "output directory")
}
