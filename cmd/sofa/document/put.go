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

package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sofa-team/sofa/cmd/sofa/config"
	docs "github.com/sofa-team/sofa/pkg/document"
)

var (
	putID  string
	putRev string
)

func newPutCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "put [json payload]",
		Short:   "Create or update a document",
		PreRunE: config.Preload,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("JSON payload is required")
			}

			var payload map[string]interface{}
			if err := json.Unmarshal([]byte(args[0]), &payload); err != nil {
				return fmt.Errorf("decode payload: %w", err)
			}

			db, err := config.DialDatabase()
			if err != nil {
				return err
			}

			doc := docs.New(putID, payload)
			if putRev != "" {
				doc = doc.WithRev(putRev)
			}

			written, err := db.Put(context.Background(), doc)
			if err != nil {
				return err
			}

			return printDocuments(cmd, written)
		},
	}
}

func init() {
	cmd := newPutCommand()
	cmd.Flags().StringVar(
		&putID,
		"id",
		"",
		"The document ID; a new one is minted when omitted",
	)
	cmd.Flags().StringVar(
		&putRev,
		"rev",
		"",
		"The last-known revision when updating an existing document",
	)
	SubCmd.AddCommand(cmd)
}
