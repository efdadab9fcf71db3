// Command fhirpath parses and evaluates FHIRPath expressions against
// FHIR resources encoded as JSON.
//
// Usage:
//
//	fhirpath parse "Patient.name.given"
//	fhirpath evaluate "Patient.name.given" --input patient.json
//	cat patient.json | fhirpath evaluate "name.where(use = 'official')"
//	fhirpath validate "1 + "
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/probemed/fhirpath"
	"github.com/probemed/fhirpath/jsonnode"
)

func main() {
	viper.SetEnvPrefix("FHIRPATH")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	rootCmd := &cobra.Command{
		Use:           "fhirpath",
		Short:         "Parse and evaluate FHIRPath expressions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
	_ = viper.BindPFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(parseCmd(&logger))
	rootCmd.AddCommand(validateCmd(&logger))
	rootCmd.AddCommand(evaluateCmd(&logger))

	cobra.OnInitialize(func() {
		if viper.GetBool("verbose") {
			logger = logger.Level(zerolog.DebugLevel)
		} else {
			logger = logger.Level(zerolog.InfoLevel)
		}
	})

	if err := rootCmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// parseCmd parses an expression and prints its canonical form.
func parseCmd(logger *zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "parse <expression>",
		Short: "Parse an expression and print its canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expr, err := fhirpath.Parse(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), expr)
			return nil
		},
	}
}

// validateCmd checks expressions for syntax errors without evaluating
// them. With no arguments it reads one expression per line from stdin.
func validateCmd(logger *zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [expression...]",
		Short: "Check expressions for syntax errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			exprs := args
			if len(exprs) == 0 {
				input, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				for _, line := range strings.Split(string(input), "\n") {
					if line = strings.TrimSpace(line); line != "" {
						exprs = append(exprs, line)
					}
				}
			}

			invalid := 0
			for _, src := range exprs {
				if _, err := fhirpath.Parse(src); err != nil {
					invalid++
					logger.Error().Err(err).Str("expression", src).Msg("invalid expression")
					continue
				}
				logger.Debug().Str("expression", src).Msg("valid expression")
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d expressions invalid", invalid, len(exprs))
			}
			logger.Info().Int("expressions", len(exprs)).Msg("all expressions valid")
			return nil
		},
	}
}

// evaluateCmd evaluates an expression against a JSON resource read from
// a file or stdin.
func evaluateCmd(logger *zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate <expression>",
		Short: "Evaluate an expression against a JSON resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expr, err := fhirpath.Parse(args[0])
			if err != nil {
				return err
			}

			data, err := readInput(cmd, viper.GetString("input"))
			if err != nil {
				return err
			}
			node, err := jsonnode.Parse(data)
			if err != nil {
				return fmt.Errorf("reading resource: %w", err)
			}

			ctx := jsonnode.Context(context.Background(), node)
			ctx = fhirpath.WithMaxDepth(ctx, viper.GetInt("max-depth"))
			ctx = fhirpath.WithTracer(ctx, fhirpath.LogTracer{Logger: *logger})
			ctx, err = bindVariables(ctx, viper.GetStringSlice("var"))
			if err != nil {
				return err
			}

			result, err := fhirpath.Evaluate(ctx, node, expr)
			if err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), result, viper.GetString("format"))
		},
	}
	cmd.Flags().StringP("input", "i", "-", "resource JSON file, - for stdin")
	cmd.Flags().Int("max-depth", 512, "maximum expression nesting depth")
	cmd.Flags().StringArray("var", nil, "environment variable as name=value, repeatable")
	cmd.Flags().StringP("format", "f", "json", "output format: json or text")
	_ = viper.BindPFlags(cmd.Flags())
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

// bindVariables installs name=value pairs as %name environment
// variables. Values are bound as strings.
func bindVariables(ctx context.Context, vars []string) (context.Context, error) {
	for _, v := range vars {
		name, value, ok := strings.Cut(v, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid variable %q, expected name=value", v)
		}
		ctx = fhirpath.WithEnv(ctx, name, fhirpath.Collection{fhirpath.String(value)})
	}
	return ctx, nil
}

func writeResult(w io.Writer, result fhirpath.Collection, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case "text":
		for _, elem := range result {
			fmt.Fprintln(w, elem)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
