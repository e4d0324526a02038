// Copyright 2012 Lawrence Kesteloot

package main

// Commands for looking at and converting disk images.

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lkesteloot/trs80emu/diskimage"
	"github.com/lkesteloot/trs80emu/floppy"
)

var diskCmd = &cobra.Command{
	Use:   "disk",
	Short: "Disk image tools",
}

var diskInfoCmd = &cobra.Command{
	Use:                   "info FILE",
	Short:                 "Shows the geometry and sectors of a disk image",
	Long:                  `Reads a DMK, JV1 or JV3 image and lists the sectors found on each track.`,
	Args:                  cobra.ExactArgs(1),
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, format, err := diskimage.Load(args[0])
		if err != nil {
			return err
		}
		describeFloppy(os.Stdout, f, format)
		return nil
	},
}

var diskConvertCmd = &cobra.Command{
	Use:                   "convert IN OUT",
	Short:                 "Converts a disk image to DMK",
	Long:                  `Reads a DMK, JV1 or JV3 image and writes it as a DMK image.`,
	Args:                  cobra.ExactArgs(2),
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, _, err := diskimage.Load(args[0])
		if err != nil {
			return err
		}
		return diskimage.Save(args[1], f)
	},
}

func init() {
	diskCmd.AddCommand(diskInfoCmd, diskConvertCmd)
	rootCmd.AddCommand(diskCmd)
}

// Print a summary of the diskette, one line per track side.
func describeFloppy(w io.Writer, f *floppy.Floppy, format diskimage.Format) {
	protect := ""
	if f.WriteProtected {
		protect = ", write protected"
	}
	fmt.Fprintf(w, "%s: %s, %d tracks, %d sides%s\n", f.Name, format, f.TrackCount(), f.Sides(), protect)

	for track := 0; track < f.TrackCount(); track++ {
		for side := 0; side < f.Sides(); side++ {
			t := f.Track(track, side)
			if t == nil {
				fmt.Fprintf(w, "%2d/%d: unformatted\n", track, side)
				continue
			}

			density := "SD"
			if t.Mixed() {
				density = "mixed"
			} else if t.DoubleDensityAt(0) {
				density = "DD"
			}

			var sectors []string
			for _, sd := range t.Sectors() {
				s := fmt.Sprintf("%d", sd.Sector)
				if len(sd.Data) != 256 {
					s += fmt.Sprintf("(%d)", len(sd.Data))
				}
				if sd.Deleted() {
					s += "D"
				}
				if sd.CRCError {
					s += "!"
				}
				sectors = append(sectors, s)
			}
			fmt.Fprintf(w, "%2d/%d: %s %5d bytes: %s\n", track, side, density, t.Len(), strings.Join(sectors, " "))
		}
	}
}
