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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sofa-team/sofa/client"
	"github.com/sofa-team/sofa/cmd/sofa/config"
	"github.com/sofa-team/sofa/pkg/checkpoint"
)

var (
	watchSince          string
	watchIncludeDocs    bool
	watchCheckpointPath string
)

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "watch",
		Short:   "Follow the change feed of a database",
		PreRunE: config.Preload,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := config.DialDatabase()
			if err != nil {
				return err
			}

			since := watchSince

			// With a checkpoint file the feed resumes where the last run left
			// off. The checkpoint is saved only after a change was printed, so
			// a crash replays the change rather than losing it.
			var store *checkpoint.Store
			if watchCheckpointPath != "" {
				store, err = checkpoint.Open(watchCheckpointPath)
				if err != nil {
					return err
				}
				defer func() {
					_ = store.Close()
				}()

				saved, ok, err := store.Load(db.Name())
				if err != nil {
					return err
				}
				if ok {
					since = saved.Seq
				}
			}

			ctx, stop := signal.NotifyContext(
				context.Background(), os.Interrupt, syscall.SIGTERM,
			)
			defer stop()

			var opts []client.ChangesOption
			if watchIncludeDocs {
				opts = append(opts, client.WithIncludeDocs())
			}

			feed, err := db.Changes(ctx, since, client.FeedContinuous, opts...)
			if err != nil {
				return err
			}
			defer func() {
				_ = feed.Close()
			}()

			for {
				record, err := feed.Next(ctx)
				if err != nil {
					if errors.Is(err, client.ErrFeedClosed) || errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}

				if err := printChange(cmd, record); err != nil {
					return err
				}
				if store != nil {
					if err := store.Save(db.Name(), record.Seq); err != nil {
						return err
					}
				}
			}
		},
	}
}

// printChange writes one change record as a JSON line.
func printChange(cmd *cobra.Command, record client.ChangeRecord) error {
	line := map[string]interface{}{
		"seq":     record.Seq,
		"id":      record.ID,
		"deleted": record.Deleted,
	}
	if len(record.Revs) > 0 {
		line["rev"] = record.Revs[0]
	}
	if record.Doc != nil {
		line["doc"] = record.Doc.Payload()
	}

	encoded, err := json.Marshal(line)
	if err != nil {
		return err
	}
	cmd.Println(string(encoded))
	return nil
}

func init() {
	cmd := newWatchCommand()
	cmd.Flags().StringVar(
		&watchSince,
		"since",
		client.SinceBeginning,
		`The sequence token to resume from, "0" or "now"`,
	)
	cmd.Flags().BoolVar(
		&watchIncludeDocs,
		"include-docs",
		false,
		"Whether to print a snapshot of each changed document",
	)
	cmd.Flags().StringVar(
		&watchCheckpointPath,
		"checkpoint-file",
		"",
		"Path of a file persisting the feed position across runs",
	)
	rootCmd.AddCommand(cmd)
}
