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

// Package document provides document-related commands.
package document

import (
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	docs "github.com/sofa-team/sofa/pkg/document"
)

// SubCmd is the root of document-related commands.
var SubCmd = &cobra.Command{
	Use:   "document",
	Short: "Manage documents of a database",
}

// printDocuments renders documents as a borderless table, one row each.
func printDocuments(cmd *cobra.Command, documents ...docs.Document) error {
	tw := table.NewWriter()
	tw.Style().Options.DrawBorder = false
	tw.Style().Options.SeparateColumns = false
	tw.Style().Options.SeparateFooter = false
	tw.Style().Options.SeparateHeader = false
	tw.Style().Options.SeparateRows = false
	tw.AppendHeader(table.Row{
		"ID",
		"REV",
		"PAYLOAD",
	})

	for _, document := range documents {
		payload, err := json.Marshal(document.Payload())
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		tw.AppendRow(table.Row{
			document.ID(),
			document.Rev(),
			string(payload),
		})
	}

	cmd.Printf("%s\n", tw.Render())
	return nil
}
