package cmd

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/spf13/cobra"

	"github.com/mj1618/portal-pilot/internal/capture"
	"github.com/mj1618/portal-pilot/internal/output"
)

var screenshotCmd = &cobra.Command{
	Use:   "screenshot",
	Short: "Capture a screenshot",
	Long: `Capture the screen or a region of it as PNG. With --annotate the frame is
parsed and every element is outlined with its [id] label, the same ids the
decision service sees.

Examples:
  portal-pilot screenshot --out screen.png
  portal-pilot screenshot --region 0,0,800,600 --annotate --out ids.png`,
	RunE: runScreenshot,
}

func init() {
	rootCmd.AddCommand(screenshotCmd)
	screenshotCmd.Flags().String("region", "", "Region as x,y,w,h")
	screenshotCmd.Flags().Bool("annotate", false, "Parse the frame and draw element boxes and ids")
	screenshotCmd.Flags().String("out", "", "Output file path (default: stdout as base64)")
}

// ScreenshotResult is printed when the image is written to a file.
type ScreenshotResult struct {
	Path     string `yaml:"path"               json:"path"`
	Width    int    `yaml:"width"              json:"width"`
	Height   int    `yaml:"height"             json:"height"`
	Elements int    `yaml:"elements,omitempty" json:"elements,omitempty"`
	ScreenID string `yaml:"screen_id,omitempty" json:"screen_id,omitempty"`
}

func runScreenshot(cmd *cobra.Command, args []string) error {
	region, _ := cmd.Flags().GetString("region")
	annotate, _ := cmd.Flags().GetBool("annotate")
	out, _ := cmd.Flags().GetString("out")

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	opts, err := rt.captureOptions(region)
	if err != nil {
		return err
	}

	var (
		img    image.Image
		result ScreenshotResult
	)
	if annotate {
		screen, f, err := rt.perceiver.Perceive(cmd.Context(), opts)
		if err != nil {
			return err
		}
		img = capture.Annotate(f, screen.Elements)
		result.Elements = len(screen.Elements)
		result.ScreenID = screen.ID
	} else {
		f, err := rt.sampler.Capture(cmd.Context(), opts)
		if err != nil {
			return err
		}
		img = f.Image
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}

	if out == "" {
		encoder := base64.NewEncoder(base64.StdEncoding, output.Writer)
		if _, err := encoder.Write(buf.Bytes()); err != nil {
			return err
		}
		if err := encoder.Close(); err != nil {
			return err
		}
		_, err := fmt.Fprintln(output.Writer)
		return err
	}

	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return err
	}
	result.Path = out
	result.Width = img.Bounds().Dx()
	result.Height = img.Bounds().Dy()
	return output.Print(result)
}
