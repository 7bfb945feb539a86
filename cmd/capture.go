package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var captureCamera string

var captureCmd = &cobra.Command{
	Use:       "capture {photo|video}",
	Short:     "Request an on-demand capture from a camera",
	Long:      `Asks the camera to capture on its next cloud check-in. Cameras are battery devices that sleep between transmissions, so the capture is queued, not immediate.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"photo", "video"},
	RunE:      runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().StringVar(&captureCamera, "camera", "", "Camera id (required)")
	captureCmd.MarkFlagRequired("camera")
}

func runCapture(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, _, err := vendorClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	var ok bool
	switch args[0] {
	case "photo":
		ok, err = client.RequestPhoto(ctx, captureCamera)
	case "video":
		ok, err = client.RequestVideo(ctx, captureCamera)
	default:
		return fmt.Errorf("capture kind must be photo or video")
	}
	if err != nil {
		return fmt.Errorf("capture request: %w", err)
	}
	if !ok {
		return fmt.Errorf("vendor rejected the capture request")
	}

	fmt.Printf("%s capture queued for camera %s\n", args[0], captureCamera)
	return nil
}
