package cli

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"convodb/pkg/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Check and generate convodb config files",
	}
	cmd.AddCommand(newConfigCheckCmd(), newConfigDefaultsCmd())
	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [config.yaml]",
		Short: "Report syntax errors, unknown keys and invalid values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read config file: %w", err)
			}
			var raw map[string]any
			if err := yaml.Unmarshal(data, &raw); err != nil {
				return fmt.Errorf("syntax error:\n%s", yaml.FormatError(err, false, true))
			}
			unknown := unknownKeys(raw, reflect.TypeOf(config.Config{}), "")
			sort.Strings(unknown)

			cfg, err := config.LoadConfigFile(args[0])
			if err != nil {
				return err
			}
			dbPath := cfg.Server.DBPath
			if dbPath == "" {
				dbPath = "./.database"
			}
			verr := config.ValidateConfig(config.EffectiveConfigResult{Config: cfg, DBPath: dbPath, Source: "config"})

			out := cmd.OutOrStdout()
			for _, k := range unknown {
				fmt.Fprintf(out, "unknown key: %s\n", k)
			}
			if verr != nil {
				fmt.Fprintf(out, "invalid: %v\n", verr)
			}
			if len(unknown) > 0 || verr != nil {
				return fmt.Errorf("config check failed")
			}
			fmt.Fprintln(out, "config ok")
			return nil
		},
	}
}

func newConfigDefaultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "defaults",
		Short: "Print a config file with every default filled in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := &config.Config{}
			cfg.ApplyDefaults()
			b, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
}

// unknownKeys walks raw against the yaml tags of t and returns dotted paths
// of keys that no field accepts.
func unknownKeys(raw map[string]any, t reflect.Type, prefix string) []string {
	fields := map[string]reflect.Type{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := strings.Split(f.Tag.Get("yaml"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		fields[name] = f.Type
	}
	var out []string
	for k, v := range raw {
		ft, ok := fields[k]
		if !ok {
			out = append(out, prefix+k)
			continue
		}
		sub, isMap := v.(map[string]any)
		if isMap && ft.Kind() == reflect.Struct {
			out = append(out, unknownKeys(sub, ft, prefix+k+".")...)
		}
	}
	return out
}
