package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/thesyncim/rtcaudio"
	"github.com/thesyncim/rtcaudio/device"
)

func devicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List engine backends and sound devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

			rtcaudio.IsNativeAvailable() // probe so availability is current
			fmt.Fprintln(w, "BACKEND\tAVAILABLE\tNETWORK")
			for _, b := range rtcaudio.Backends() {
				fmt.Fprintf(w, "%s\t%t\t%t\n", b, b.Available(), b.Features().Has(rtcaudio.FeatureNetwork))
			}
			fmt.Fprintln(w)

			fmt.Fprintln(w, "KIND\tDEVICE\tDEFAULT")
			for _, capture := range []bool{true, false} {
				kind := "playback"
				if capture {
					kind = "capture"
				}
				infos, err := device.List(capture)
				if err != nil {
					return err
				}
				for _, info := range infos {
					fmt.Fprintf(w, "%s\t%s\t%t\n", kind, info.Name, info.IsDefault)
				}
			}
			return w.Flush()
		},
	}
}
