package main

import (
	"fmt"
	"os"
	"strings"

	"qrbot/internal/render"

	"github.com/spf13/cobra"
)

func newRenderCommand() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "render <text>",
		Short: "Writes the QR code the bot would send for text as a PNG",
		Example: `  qrbot render "https://example.com" -o example.png
  qrbot render hello world > hello.png`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			png, err := render.New().Render(strings.Join(args, " "))
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(png)
				return err
			}
			if err := os.WriteFile(out, png, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d bytes to %s\n", len(png), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "output", "o", "", "output file; stdout when empty")
	return cmd
}
