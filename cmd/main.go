/*
Copyright 2024 Tabwise Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tabwise-finance/tabwise"
	"github.com/tabwise-finance/tabwise/config"
	"github.com/tabwise-finance/tabwise/database"
	"github.com/tabwise-finance/tabwise/internal/notification"
)

// Tabwise represents the CLI application, encapsulating the root Cobra command.
type Tabwise struct {
	cmd *cobra.Command
}

// tabwiseInstance holds the engine and its configuration for use across
// subcommands.
type tabwiseInstance struct {
	tabwise *tabwise.Tabwise
	cnf     *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the engine before any
// subcommand executes.
func preRun(app *tabwiseInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("tabwise.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newTabwise, err := setupTabwise(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.tabwise = newTabwise
		app.cnf = cnf

		return nil
	}
}

func setupTabwise(cfg *config.Configuration) (*tabwise.Tabwise, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newTabwise, err := tabwise.NewTabwise(db)
	if err != nil {
		return nil, fmt.Errorf("error creating tabwise: %v", err)
	}
	return newTabwise, nil
}

// NewCLI builds the command-line interface with the server, workers and
// migrate subcommands.
func NewCLI() *Tabwise {
	var configFile string
	b := &tabwiseInstance{}

	var rootCmd = &cobra.Command{
		Use:   "tabwise",
		Short: "Cross-chain bill settlement engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./tabwise.json", "Configuration file for tabwise")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))
	rootCmd.AddCommand(configCommands())

	return &Tabwise{cmd: rootCmd}
}

func (w Tabwise) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
