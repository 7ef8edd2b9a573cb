package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/MrWong99/livetalk/pkg/audio/device"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List capture and playback devices",
		Long: `List the audio devices miniaudio can open. The index or a fragment of the
name can be used as audio.capture_device or audio.playback_device.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			backend, err := device.New()
			if err != nil {
				return err
			}
			defer backend.Close()

			for _, kind := range []device.Kind{device.KindCapture, device.KindPlayback} {
				infos, err := backend.Devices(kind)
				if err != nil {
					return err
				}
				printDevices(cmd.OutOrStdout(), kind, infos)
			}
			return nil
		},
	}
}

func printDevices(w io.Writer, kind device.Kind, infos []device.Info) {
	fmt.Fprintf(w, "%s devices:\n", kind)
	if len(infos) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	for _, d := range infos {
		marker := " "
		if d.IsDefault {
			marker = "*"
		}
		fmt.Fprintf(w, "  %s %2d  %s\n", marker, d.Index, d.Name)
	}
}
