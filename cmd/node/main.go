// Node is the sensor-body deployable: it wakes into its TDMA slot
// after the Gateway's beacon, sends its queued readings, and waits for
// a single burst ACK before sleeping the radio again.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/semit-takahashi/sast-gateway/internal/cloudclient"
	"github.com/semit-takahashi/sast-gateway/internal/config"
	"github.com/semit-takahashi/sast-gateway/internal/configsync"
	"github.com/semit-takahashi/sast-gateway/internal/nodelink"
	"github.com/semit-takahashi/sast-gateway/internal/radio"
	"github.com/semit-takahashi/sast-gateway/internal/runtime"
	"github.com/semit-takahashi/sast-gateway/internal/store"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:          "node [CLEAR|CONFIG]",
	Short:        "SAST LoRa sensor node",
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/sast/node.yaml", "configuration file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("node: load config: %w", err)
	}
	if cfg.Node.No <= 0 {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("node: hostname: %w", err)
		}
		cfg.Node.No, err = config.NodeNoFromHostname(hostname)
		if err != nil {
			return fmt.Errorf("node: derive node number: %w", err)
		}
	}

	rt := runtime.New(cfg.Node.No, fmt.Sprintf("node%02d: ", cfg.Node.No))

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("node: open store: %w", err)
	}
	defer st.Close()

	var verb string
	if len(args) == 1 {
		verb = strings.ToUpper(args[0])
	}

	switch verb {
	case "CLEAR":
		if err := st.Clear(rt.Context()); err != nil {
			return fmt.Errorf("node: clear: %w", err)
		}
		rt.Log.Printf("cleared all tables")
		return nil
	case "CONFIG":
		cloud := cloudclient.New(cfg.Cloud.ScriptURL)
		cs := configsync.New(cloud, st, rt.Log)
		if err := cs.Sync(rt.Context()); err != nil {
			return fmt.Errorf("node: config sync: %w", err)
		}
		rt.Log.Printf("config sync complete")
		return nil
	case "":
		// fall through to the long-running handshake below.
	default:
		return fmt.Errorf("node: unrecognized argument %q", args[0])
	}

	if err := st.InitNode(rt.Context()); err != nil {
		return fmt.Errorf("node: init: %w", err)
	}

	var pins radio.ModePins
	if cfg.Radio.Simulate {
		pins = radio.NewSimPins()
	} else {
		return fmt.Errorf("node: radio.simulate=false requires host-specific GPIO wiring not provided by this build")
	}
	link, err := radio.Open(radio.Config{Port: cfg.Radio.Port, BaudRate: cfg.Radio.BaudRate}, pins, rt.Log)
	if err != nil {
		return fmt.Errorf("node: open radio: %w", err)
	}
	defer link.Close()

	rt.InstallSignalHandlers()

	nl := nodelink.New(link, st, cfg.Node.No, cfg.BeaconInterval(), rt.Log)
	rt.Log.Printf("node %02d waiting for beacon", cfg.Node.No)
	if err := nl.SyncAndRun(rt.Context()); err != nil {
		rt.Log.Printf("sync and run: %v", err)
		return fmt.Errorf("node: sync and run: %w", err)
	}

	rt.Log.Printf("shutdown complete")
	return nil
}
