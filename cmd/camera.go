package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ptz-panel/internal/isapi"
	"ptz-panel/internal/ptz"
)

var cameraAddr string

// setupDevice returns a client for --camera, or the first configured camera.
func setupDevice() (*isapi.Client, error) {
	cfg, log, err := setup()
	if err != nil {
		return nil, err
	}
	addr := cameraAddr
	if addr == "" {
		addr = cfg.Cameras[0]
	} else if !slices.Contains(cfg.Cameras, addr) {
		return nil, fmt.Errorf("%w: %s", ptz.ErrUnknownCamera, addr)
	}
	return isapi.NewClient(isapi.Config{
		Endpoint: ptz.Endpoint{Proxy: cfg.ProxyAddress, Camera: addr},
		Timeout:  cfg.Device.Timeout,
	}, log), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the live pose of a camera",
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := setupDevice()
		if err != nil {
			return err
		}
		st, err := dev.Status(cmd.Context())
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(st)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "CAMERA\tELEVATION\tAZIMUTH\tZOOM")
		fmt.Fprintf(w, "%s\t%g\t%g\t%g\n", dev.Endpoint().Camera, st.Elevation, st.Azimuth, st.AbsoluteZoom)
		return w.Flush()
	},
}

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "Manage camera presets",
}

var presetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the presets stored on a camera",
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := setupDevice()
		if err != nil {
			return err
		}
		return listPresets(cmd.Context(), dev)
	},
}

func listPresets(ctx context.Context, dev ptz.Device) error {
	presets, err := dev.Presets(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(presets)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tENABLED")
	fmt.Fprintln(w, "--\t----\t-------")
	for _, p := range presets {
		fmt.Fprintf(w, "%d\t%s\t%t\n", p.ID, p.Name, p.Enabled)
	}
	return w.Flush()
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, presetsCmd} {
		c.PersistentFlags().StringVar(&cameraAddr, "camera", "", "camera address (default is the first configured camera)")
	}
	presetsCmd.AddCommand(presetsListCmd)
	rootCmd.AddCommand(statusCmd, presetsCmd)
}
