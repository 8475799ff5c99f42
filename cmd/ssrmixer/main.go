package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ssrmixer/internal/app"
)

func main() {
	rootCmd := newRootCmd(func(config app.Config) error {
		return app.NewApplication(config).Start()
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(run func(app.Config) error) *cobra.Command {
	config := app.DefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "ssrmixer",
		Short: "Mode S / ADS-B decoder (dump1090-style)",
		Long: `Mode S / ADS-B decoder for receiver feeds (dump1090-style implementation).

Accepts AVR hex lines (*...; and @...;) and Beast binary frames over TCP,
validates the Mode S CRC, repairs single-bit (and optionally two-bit) errors,
recovers addresses from address/parity replies using recently seen aircraft,
and outputs BaseStation (SBS) lines, a SQLite message log and NATS records.

Example usage:
  ssrmixer --listen-avr :40002 --listen-beast :40005 --db messages.db
  ssrmixer --connect receiver:30005 --connect-format beast --aggressive
  ssrmixer --config /etc/ssrmixer.yaml`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if config.ShowVersion {
				app.ShowVersion(cmd.OutOrStdout())
				return nil
			}

			if config.ConfigFile != "" {
				if err := config.LoadFile(config.ConfigFile, cmd.Flags()); err != nil {
					return err
				}
			}

			return run(config)
		},
	}

	config.BindFlags(rootCmd.Flags())
	return rootCmd
}
