// Command rdtp is the reliable-datagram-transfer CLI: a single binary that
// runs as either sender or receiver depending on whether -s is given,
// mirroring the reference TCPend tool's single-binary convention.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MrPotato53/CS640Assignment4/internal/observability"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

var flags struct {
	localPort  int
	remoteHost string
	remotePort int
	file       string
	mtu        int
	window     int
	logLevel   string
	logFile    string
}

var rootCmd = &cobra.Command{
	Use:     "rdtp",
	Short:   "Reliable file transfer over an unreliable datagram link",
	Version: Version,
	RunE:    run,
}

func init() {
	cobra.OnInitialize(initViper)

	rootCmd.Flags().IntVarP(&flags.localPort, "port", "p", 0, "local UDP port (required)")
	rootCmd.Flags().StringVarP(&flags.remoteHost, "sender-host", "s", "", "remote host to send to (sender mode)")
	rootCmd.Flags().IntVarP(&flags.remotePort, "sender-port", "a", 0, "remote port to send to (sender mode)")
	rootCmd.Flags().StringVarP(&flags.file, "file", "f", "", "input file (sender) or output file (receiver) (required)")
	rootCmd.Flags().IntVarP(&flags.mtu, "mtu", "m", 0, "maximum payload bytes per datagram (required)")
	rootCmd.Flags().IntVarP(&flags.window, "window", "c", 0, "sliding window size in packets (required)")

	rootCmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "operational log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&flags.logFile, "log-file", "", "rotate the operational log to this file instead of stderr")

	viper.BindPFlag("log-level", rootCmd.Flags().Lookup("log-level"))
	viper.BindPFlag("log-file", rootCmd.Flags().Lookup("log-file"))
}

func initViper() {
	viper.SetEnvPrefix("RDTP")
	viper.AutomaticEnv()
}

func main() {
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := validateFlags(); err != nil {
		cmd.Usage()
		return err
	}

	level := parseLevel(viper.GetString("log-level"))
	var log *observability.Logger
	if path := viper.GetString("log-file"); path != "" {
		log = observability.NewRotating(path, level)
	} else {
		log = observability.New(os.Stderr, level)
	}
	observability.ReplaceDefault(log)

	if flags.remoteHost != "" {
		return runSender(log)
	}
	return runReceiver(log)
}

func parseLevel(s string) observability.Level {
	switch s {
	case "debug":
		return observability.DebugLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// validateFlags enforces the CLI's required-flag contract: -p, -m, -c, -f
// are always required; -s (and, when given, -a) are additionally required
// in sender mode.
func validateFlags() error {
	var missing []string
	if flags.localPort == 0 {
		missing = append(missing, "-p")
	}
	if flags.mtu == 0 {
		missing = append(missing, "-m")
	}
	if flags.window == 0 {
		missing = append(missing, "-c")
	}
	if flags.file == "" {
		missing = append(missing, "-f")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required flag(s): %v", missing)
	}

	if flags.remoteHost != "" && flags.remotePort == 0 {
		return fmt.Errorf("sender mode requires -a <remote_port>")
	}
	return nil
}
