// Copyright 2012 Lawrence Kesteloot

package main

import (
	"fmt"
	"os"
	"runtime/pprof"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lkesteloot/trs80emu/clock"
)

const (
	defaultRom          = "roms/model3.rom"
	defaultDisksDir     = "disks"
	defaultStatesDir    = "states"
	defaultWebPort      = 8080
	defaultProfileFile  = "trs80.prof"
	defaultProfileTicks = 50
)

// Command-line flags.
var (
	debug        bool
	romPath      string
	disksDir     string
	statesDir    string
	webPort      int
	unthrottled  bool
	profileSecs  int
	profileFile  string
	profileTrace bool
)

var rootCmd = &cobra.Command{
	Use:   "trs80emu",
	Short: "TRS-80 Model III emulator",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug {
			log.SetLevel(log.DebugLevel)
		}
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve [DISK...]",
	Short: "Runs the emulator behind a web UI",
	Long: `Serves the web UI. Each browser connection gets its own machine with
the given disk images in drives 0, 1, and so on.`,
	Args: cobra.MaximumNArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveWebsite(webPort, machineConfig(args))
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile [DISK...]",
	Short: "Runs the machine unthrottled and writes a CPU profile",
	Long: `Boots the machine without the web UI, runs it for the given number of
emulated seconds as fast as possible, and writes a CPU profile. The final
screen is logged.`,
	Args: cobra.MaximumNArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		return profileSystem(machineConfig(args))
	},
}

func machineConfig(disks []string) vmConfig {
	return vmConfig{
		romPath:     romPath,
		diskDir:     disksDir,
		stateDir:    statesDir,
		disks:       disks,
		unthrottled: unthrottled,
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log debugging information")

	for _, cmd := range []*cobra.Command{serveCmd, profileCmd} {
		cmd.Flags().StringVar(&romPath, "rom", defaultRom, "Model III ROM image")
		cmd.Flags().StringVar(&disksDir, "disks", defaultDisksDir, "directory of disk images offered by the UI")
		cmd.Flags().StringVar(&statesDir, "states", defaultStatesDir, "directory of save states")
	}
	serveCmd.Flags().IntVarP(&webPort, "port", "p", defaultWebPort, "web port to listen to")
	serveCmd.Flags().BoolVar(&unthrottled, "unthrottled", false, "run as fast as possible")
	profileCmd.Flags().IntVar(&profileSecs, "seconds", defaultProfileTicks, "emulated seconds to run")
	profileCmd.Flags().StringVar(&profileFile, "cpuprofile", defaultProfileFile, "where to write the CPU profile")
	profileCmd.Flags().BoolVar(&profileTrace, "trace", false, "log every instruction")

	rootCmd.AddCommand(serveCmd, profileCmd)
}

// Run the machine for a while without the web server and profile it.
func profileSystem(cfg vmConfig) error {
	vm, err := createVm(cfg, nil)
	if err != nil {
		return err
	}
	vm.tracing = profileTrace

	f, err := os.Create(profileFile)
	if err != nil {
		return errors.Wrap(err, "creating profile")
	}
	defer f.Close()
	if err := pprof.StartCPUProfile(f); err != nil {
		return errors.Wrap(err, "starting profile")
	}
	defer pprof.StopCPUProfile()

	end := uint64(profileSecs) * clock.TicksPerSecond
	for vm.clock.TickCount() < end {
		vm.beforeInstruction()
		vm.clock.Step()
	}

	log.WithFields(log.Fields{
		"seconds": profileSecs,
		"pc":      fmt.Sprintf("%04X", vm.cpu.pc()),
		"fdc":     vm.fdc.StatusString(),
	}).Info("Profile done")
	log.Info("Screen:\n" + strings.Join(vm.screenText(), "\n"))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
