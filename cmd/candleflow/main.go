package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCMD = &cobra.Command{
	Use:   "candleflow",
	Short: "Live candlestick charts reconciled from a trade stream and stored history",
	Long: `candleflow keeps OHLC charts live by merging a websocket stream of trades
and completed candles with bars fetched from the history store.

It can run as a service with an HTTP API, draw one chart in the terminal,
or export stored series to Parquet or JSON.`,
	SilenceUsage: true,
}

func init() {
	rootCMD.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the YAML config")
	rootCMD.AddCommand(serveCMD, watchCMD, exportCMD)
}

func main() {
	if err := rootCMD.Execute(); err != nil {
		os.Exit(1)
	}
}
