package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"candleflow/internal/adapter/terminal"
	"candleflow/internal/application/service"
	"candleflow/internal/domain/model"
	"candleflow/internal/infrastructure/logger"
)

var (
	watchSymbol string
	watchTF     string
	watchRows   int
	watchMode   string
)

var watchCMD = &cobra.Command{
	Use:   "watch",
	Short: "Draw one live chart in the terminal",
	Example: `  candleflow watch --symbol BTCUSDT --tf 1m
  candleflow watch -s ETHUSDT -t 5s --mode test`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		tf, err := model.ParseTimeframe(watchTF)
		if err != nil {
			return err
		}
		modeName := cfg.Mode
		if watchMode != "" {
			modeName = watchMode
		}
		mode, ok := model.ParseDataMode(modeName)
		if !ok {
			return fmt.Errorf("invalid mode %q", modeName)
		}
		// генератор пишет историю по графикам конфигурации
		cfg.Charts = append(cfg.Charts[:0], configChart(watchSymbol, tf))

		// логи в stderr, чтобы не мешать таблице
		log := logger.NewWithWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		modes := service.NewModeService(mode, streamFactory(cfg, store, log), log)
		stream, err := modes.Start(ctx)
		if err != nil {
			return err
		}
		defer modes.Stop()

		ctrl := service.NewController(controllerConfig(cfg, watchSymbol, tf), store, stream, log)
		if err := ctrl.Start(ctx); err != nil {
			ctrl.Stop()
			return err
		}

		go func() {
			<-ctx.Done()
			ctrl.Stop()
		}()

		return draw(cmd.OutOrStdout(), terminal.Renderer{Rows: watchRows}, ctrl.Views())
	},
}

func init() {
	watchCMD.Flags().StringVarP(&watchSymbol, "symbol", "s", "BTCUSDT", "symbol to watch")
	watchCMD.Flags().StringVarP(&watchTF, "tf", "t", "1m", "timeframe label, e.g. 1s, 5m, 1h")
	watchCMD.Flags().IntVarP(&watchRows, "rows", "n", 20, "historical bars to show")
	watchCMD.Flags().StringVar(&watchMode, "mode", "", "live or test (defaults to config mode)")
}

// draw перерисовывает экран на каждый View, пока канал не закроется.
func draw(w io.Writer, r terminal.Renderer, views <-chan model.View) error {
	for v := range views {
		if _, err := io.WriteString(w, "\033[H\033[2J"); err != nil {
			return err
		}
		if err := r.Render(w, v); err != nil {
			return err
		}
	}
	return nil
}
