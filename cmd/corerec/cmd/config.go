package cmd

import (
	"fmt"
	"reflect"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/streamkeep/corerec/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration (defaults plus any --config file and
CORREC_ environment overrides already applied) in YAML format.

  corerec config dump > config.yaml

Environment variables use the CORREC_ prefix with underscores for
nesting, e.g. hls.download_concurrency -> CORREC_HLS_DOWNLOAD_CONCURRENCY.`,
	RunE: runConfigDump,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration, then exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	yamlData, err := yaml.Marshal(structToMap(loaded))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "# corerec configuration")
	fmt.Fprintln(cmd.OutOrStdout(), "# Duration format: 30s, 5m, 1h, 30d; size format: 5MB, 1GB")
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprint(cmd.OutOrStdout(), string(yamlData))
	return nil
}

// structToMap renders a config struct (or *Config) into a map keyed by
// its mapstructure tags, recursing into nested structs, so
// config.Duration/config.ByteSize's human-readable MarshalText output
// survives the YAML round-trip instead of being flattened to a raw
// integer of nanoseconds or bytes.
func structToMap(v any) map[string]any {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	out := make(map[string]any, val.NumField())
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		key := typ.Field(i).Tag.Get("mapstructure")
		if key == "" {
			key = typ.Field(i).Name
		}

		if marshaler, ok := field.Interface().(interface{ MarshalText() ([]byte, error) }); ok {
			text, err := marshaler.MarshalText()
			if err == nil {
				out[key] = string(text)
				continue
			}
		}

		if field.Kind() == reflect.Struct {
			out[key] = structToMap(field.Interface())
			continue
		}

		out[key] = field.Interface()
	}
	return out
}
