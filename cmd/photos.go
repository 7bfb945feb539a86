package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dcrawley/reveald/internal/core/normalize"
)

var (
	photosCamera string
	photosSize   int
	photosPage   int
)

var photosCmd = &cobra.Command{
	Use:   "photos",
	Short: "List recent photos with normalized weather and telemetry",
	RunE:  runPhotos,
}

func init() {
	rootCmd.AddCommand(photosCmd)

	photosCmd.Flags().StringVar(&photosCamera, "camera", "", "Only photos from this camera id")
	photosCmd.Flags().IntVar(&photosSize, "size", 20, "Page size")
	photosCmd.Flags().IntVar(&photosPage, "page", 0, "Page number")
}

func runPhotos(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	client, log, err := vendorClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	raws, err := client.ListPhotos(ctx, photosSize, photosPage, photosCamera)
	if err != nil {
		return fmt.Errorf("list photos: %w", err)
	}

	norm := normalize.New(client, log)
	photos := make([]interface{}, 0, len(raws))
	for _, raw := range raws {
		photos = append(photos, norm.Photo(raw))
	}
	if jsonOutput {
		return printJSON(photos)
	}

	for _, raw := range raws {
		p := norm.Photo(raw)
		when := "unknown"
		if p.TakenAt != nil {
			when = p.TakenAt.Format("2006-01-02 15:04:05")
		}
		temp := ""
		if p.Weather != nil && p.Weather.Temperature != nil {
			temp = fmt.Sprintf("  %.0f°F %s", *p.Weather.Temperature, p.Weather.Conditions)
		}
		fmt.Printf("%s  %s  %s%s\n", p.CameraID, when, p.URL, temp)
	}
	return nil
}
