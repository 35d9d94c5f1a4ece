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

	"github.com/sofa-team/sofa/client"
	"github.com/sofa-team/sofa/cmd/sofa/config"
)

var (
	findLimit    int64
	findBookmark string
)

func newFindCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "find [selector json]",
		Short:   "Query documents matching a selector",
		PreRunE: config.Preload,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("selector is required")
			}

			var selector map[string]interface{}
			if err := json.Unmarshal([]byte(args[0]), &selector); err != nil {
				return fmt.Errorf("decode selector: %w", err)
			}

			db, err := config.DialDatabase()
			if err != nil {
				return err
			}

			query := client.FindQuery{
				Selector: selector,
				Bookmark: findBookmark,
			}
			if findLimit > 0 {
				query.Limit = client.Limit(findLimit)
			}

			result, err := db.Find(context.Background(), query)
			if err != nil {
				return err
			}

			if err := printDocuments(cmd, result.Docs...); err != nil {
				return err
			}
			if result.Bookmark != "" {
				cmd.Printf("bookmark: %s\n", result.Bookmark)
			}
			return nil
		},
	}
}

func init() {
	cmd := newFindCommand()
	cmd.Flags().Int64Var(
		&findLimit,
		"limit",
		0,
		"The maximum number of documents to return",
	)
	cmd.Flags().StringVar(
		&findBookmark,
		"bookmark",
		"",
		"The bookmark of a previous page to continue from",
	)
	SubCmd.AddCommand(cmd)
}
