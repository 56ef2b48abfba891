package cmd

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var globalConfig Config

func init() {
	configureLogging(os.Stderr)

	initRun()
	initPlan()
	initValidate()
	initHistory()
}

var rootCmd = &cobra.Command{
	Use:   "ccb-launcher",
	Short: "CCB training launcher",
	Long:  `Runs the CCB segmentation training programs in a fixed, sequential order`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("running the root command, see help or -h for available commands\n")
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// configureLogging sets the level from LOG_LEVEL. LOG_LEVEL=error keeps the
// launcher quiet so only the children write to the terminal.
func configureLogging(out io.Writer) {
	log.SetOutput(out)

	logLevel, ok := os.LookupEnv("LOG_LEVEL")

	if ok {
		level, err := log.ParseLevel(logLevel)
		if err == nil {
			log.SetLevel(level)
		} else {
			log.Warn("Invalid log level. Defaulting to Info level.")
			log.SetLevel(log.InfoLevel)
		}
	} else {
		log.SetLevel(log.InfoLevel)
	}
}
