/*
 * Copyright 2024 The Sofa Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package main is the entry point of the Sofa CLI.
package main

import (
	"github.com/spf13/cobra"

	"github.com/sofa-team/sofa/cmd/sofa/config"
	"github.com/sofa-team/sofa/cmd/sofa/document"
)

var rootCmd = &cobra.Command{
	Use:   "sofa",
	Short: "Revision-aware client for CouchDB-compatible document stores",
}

// Run executes CLI.
func Run() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}

	return 0
}

func init() {
	rootCmd.AddCommand(document.SubCmd)
	rootCmd.PersistentFlags().StringVar(
		&config.Addr,
		"addr",
		"",
		"Address of the store, e.g. http://localhost:5984",
	)
	rootCmd.PersistentFlags().StringVar(
		&config.Database,
		"database",
		"",
		"Name of the database to operate on",
	)
	rootCmd.PersistentFlags().StringVar(
		&config.Path,
		"config",
		"",
		"Path of the config file (default $HOME/.sofa/config.yml)",
	)
}
