package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/finchley/parley/pkg/config"
	"github.com/finchley/parley/pkg/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Multiplexed chat relay core",
	Long: `Parley relays concurrently arriving prompts onto one response
stream per conversation, buffers the stream for reconnecting viewers,
and reconciles the buffer against persisted history into a single
deduplicated transcript.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := viper.GetString("prompt")
		if prompt == "" {
			return fmt.Errorf("no prompt given; use --prompt")
		}

		app, err := newApp()
		if err != nil {
			return fmt.Errorf("failed to initialize: %w", err)
		}
		defer app.Close()

		return app.Run(context.Background(), prompt)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./.parley/settings.yaml)")
	rootCmd.Flags().String("prompt", "", "prompt to relay")
	rootCmd.Flags().String("conversation", "", "conversation id (default: a fresh one)")
	rootCmd.Flags().String("sender", "local", "sender id attached to the prompt")
	rootCmd.Flags().Bool("offline", false, "use the scripted generator instead of Ollama")
	rootCmd.Flags().Bool("continue", false, "continue the conversation's persisted history")

	viper.BindPFlag("prompt", rootCmd.Flags().Lookup("prompt"))
	viper.BindPFlag("conversation", rootCmd.Flags().Lookup("conversation"))
	viper.BindPFlag("sender", rootCmd.Flags().Lookup("sender"))
	viper.BindPFlag("offline", rootCmd.Flags().Lookup("offline"))
	viper.BindPFlag("continue", rootCmd.Flags().Lookup("continue"))
}

func initConfig() {
	if err := config.Init(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
}
