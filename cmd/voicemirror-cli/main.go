/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

const defaultServiceURL = "http://localhost:3000"

var (
	serviceURL string
	jsonOutput bool
	timeout    time.Duration
	keep       int
	voiceID    string
)

var rootCmd = &cobra.Command{
	Use:          "voicemirror-cli",
	Short:        "Administer a running VoiceMirror service",
	SilenceUsage: true,
}

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "Manage provider voices",
}

var voicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List provider voices",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		listing, err := newClient().ListVoices(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), listing)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "VOICE ID\tNAME\tCATEGORY\tRECORD\tCREATED")
		for _, v := range listing.Voices {
			record, created := "-", "-"
			if v.DBID != nil {
				record = strconv.FormatInt(*v.DBID, 10)
			}
			if v.CreatedAt != nil {
				created = v.CreatedAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", v.VoiceID, v.Name, v.Category, record, created)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("error flushing output: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", listing.Message)
		return nil
	},
}

var voicesCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete the oldest custom voices",
	Long: `Delete the oldest custom voices, keeping the newest ones.

Examples:
  voicemirror-cli voices cleanup
  voicemirror-cli voices cleanup --keep 3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		n := -1
		if cmd.Flags().Changed("keep") {
			n = keep
		}
		result, err := newClient().Cleanup(ctx, n)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), result)
		}
		fmt.Fprintln(cmd.OutOrStdout(), result.Message)
		return nil
	},
}

var voicesDeleteCmd = &cobra.Command{
	Use:   "delete <voice_id>",
	Short: "Delete one provider voice",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		result, err := newClient().DeleteVoice(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), result)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%d records updated)\n", result.Message, result.UpdatedRecords)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <record_id>",
	Short: "Show the clone status of an upload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("record id must be a positive integer")
		}

		ctx, cancel := requestContext()
		defer cancel()

		record, err := newClient().Status(ctx, id)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), record)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Record:   %d\n", record.ID)
		fmt.Fprintf(out, "Status:   %s\n", record.Status)
		if record.VoiceID != nil {
			fmt.Fprintf(out, "Voice ID: %s\n", *record.VoiceID)
		}
		fmt.Fprintf(out, "Sample:   %s\n", record.OriginalURL)
		return nil
	},
}

var responsesCmd = &cobra.Command{
	Use:   "responses",
	Short: "List rendered canned answers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		items, err := newClient().Responses(ctx, voiceID)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), items)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tQUESTION\tAUDIO")
		for _, item := range items {
			fmt.Fprintf(w, "%d\t%s\t%s\n", item.ID, item.Question, item.AudioURL)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serviceURL, "url", envOr("VOICEMIRROR_URL", defaultServiceURL), "VoiceMirror service URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "request timeout")

	voicesCleanupCmd.Flags().IntVar(&keep, "keep", 2, "number of newest custom voices to keep")
	responsesCmd.Flags().StringVar(&voiceID, "voice-id", "", "only answers rendered in this voice")

	voicesCmd.AddCommand(voicesListCmd, voicesCleanupCmd, voicesDeleteCmd)
	rootCmd.AddCommand(voicesCmd, statusCmd, responsesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newClient() *Client {
	return NewClient(serviceURL, timeout)
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func printJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
