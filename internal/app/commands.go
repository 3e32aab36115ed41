package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"techsheet/internal/render"
	"techsheet/internal/sheet"
)

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newPredictCmd() *cobra.Command {
	var (
		file        string
		thirdSunday bool
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Build a production sheet from a running order file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, file)
			if err != nil {
				return fmt.Errorf("read running order: %w", err)
			}
			a, err := Open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := sheet.Build(cmd.Context(), a.Learner, string(data), thirdSunday, time.Now())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), s)
			}
			fmt.Fprintln(cmd.OutOrStdout(), render.New(cmd.OutOrStdout()).Sheet(s))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Running order file, one item per line (- or empty for stdin)")
	cmd.Flags().BoolVar(&thirdSunday, "third-sunday", false, "Apply third-Sunday rules")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the sheet as JSON")
	return cmd
}

func newImportCmd() *cobra.Command {
	var (
		file  string
		quiet bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replay a JSON history of confirmed sheets into the learner",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer f.Close()
			records, err := sheet.ReadHistory(f)
			if err != nil {
				return err
			}

			a, err := Open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			total := sheet.CountItems(records)
			bar := progressbar.NewOptions(total,
				progressbar.OptionSetDescription("learning"),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionShowCount(),
				progressbar.OptionSetVisibility(!quiet),
			)
			n, err := sheet.ImportHistory(cmd.Context(), a.Learner, records, func(done int) {
				_ = bar.Set(done)
			})
			_ = bar.Finish()
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("import stopped after %d of %d items: %w", n, total, err)
			}
			a.Learner.SaveSystemData(cmd.Context())
			a.Logger.Info("history imported", zap.Int("items", n), zap.Int("services", len(records)))

			fmt.Fprintln(cmd.OutOrStdout(), render.New(cmd.OutOrStdout()).Status(a.Learner.Status()))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "History JSON file")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Hide the progress bar")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the learning phase, accuracy and storage state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := Open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			st := a.Learner.Status()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			fmt.Fprintln(cmd.OutOrStdout(), render.New(cmd.OutOrStdout()).Status(st))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the status as JSON")
	return cmd
}

func newReportCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show per-field accuracy, the phase table and phase history",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := Open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			rep := a.Learner.DetailedReport()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rep)
			}
			fmt.Fprintln(cmd.OutOrStdout(), render.New(cmd.OutOrStdout()).Report(rep))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}
