package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"convodb/pkg/store/db"
	"convodb/pkg/store/keys"
)

func openReadOnly(path string) (*db.DB, error) {
	return db.Open(db.Options{Path: path, ReadOnly: true})
}

func newInspectCmd() *cobra.Command {
	var prefix string
	var limit int
	cmd := &cobra.Command{
		Use:   "inspect [store-path]",
		Short: "Summarize record families and list keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openReadOnly(args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			fams, err := store.CountFamilies()
			if err != nil {
				return err
			}
			names := make([]string, 0, len(fams))
			total := 0
			for n, c := range fams {
				names = append(names, n)
				total += c
			}
			sort.Strings(names)
			fmt.Fprintf(out, "Key summary (%s keys)\n", humanize.Comma(int64(total)))
			for _, n := range names {
				fmt.Fprintf(out, "  %-14s %s\n", n, humanize.Comma(int64(fams[n])))
			}

			if limit == 0 {
				return nil
			}
			ks, err := store.ListKeys(prefix)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nKeys with prefix %q\n", prefix)
			for i, k := range ks {
				if limit > 0 && i >= limit {
					fmt.Fprintf(out, "  ... %d more\n", len(ks)-limit)
					break
				}
				fmt.Fprintf(out, "  %s\n", k)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&prefix, "prefix", "p", "", "only list keys with this prefix")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "keys to list (0 lists none, -1 lists all)")
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [store-path] [key]",
		Short: "Print one record, pretty-printed when it is JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openReadOnly(args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			v, err := store.GetKey(args[1])
			if err != nil {
				if db.IsNotFound(err) {
					return fmt.Errorf("key %q not found", args[1])
				}
				return err
			}
			out := cmd.OutOrStdout()
			var buf bytes.Buffer
			if json.Valid(v) && len(v) > 0 && json.Indent(&buf, v, "", "  ") == nil {
				fmt.Fprintln(out, buf.String())
				return nil
			}
			fmt.Fprintf(out, "%q\n", string(v))
			return nil
		},
	}
}

// jsonFamilies hold JSON documents; index families carry empty values.
var jsonFamilies = map[string]bool{"u": true, "pr": true, "c": true, "mb": true, "m": true, "rx": true, "ty": true}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [store-path]",
		Short: "Check that every record decodes and every key parses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openReadOnly(args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			ks, err := store.ListKeys("")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			bad := 0
			for _, k := range ks {
				if err := keys.Validate(k); err != nil {
					bad++
					fmt.Fprintf(out, "bad key %q: %v\n", k, err)
					continue
				}
				if !jsonFamilies[keys.Family(k)] {
					continue
				}
				v, err := store.GetKey(k)
				if err != nil {
					return err
				}
				if !json.Valid(v) {
					bad++
					fmt.Fprintf(out, "bad value at %q\n", k)
				}
			}
			fmt.Fprintf(out, "checked %s keys, %d problems\n", humanize.Comma(int64(len(ks))), bad)
			if bad > 0 {
				return fmt.Errorf("verify found %d problems", bad)
			}
			return nil
		},
	}
}
