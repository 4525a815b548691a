// Gateway is the base-station deployable: it beacons the radio
// network, receives Node data bursts, classifies sensor readings, and
// uplinks to the cloud.
package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/semit-takahashi/sast-gateway/internal/cloudclient"
	"github.com/semit-takahashi/sast-gateway/internal/config"
	"github.com/semit-takahashi/sast-gateway/internal/configsync"
	"github.com/semit-takahashi/sast-gateway/internal/gatewaylink"
	"github.com/semit-takahashi/sast-gateway/internal/observer"
	"github.com/semit-takahashi/sast-gateway/internal/radio"
	"github.com/semit-takahashi/sast-gateway/internal/runtime"
	"github.com/semit-takahashi/sast-gateway/internal/scheduler"
	"github.com/semit-takahashi/sast-gateway/internal/store"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:          "gateway [CLEAR|CONFIG]",
	Short:        "SAST LoRa gateway",
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/sast/gateway.yaml", "configuration file path")
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
		return fmt.Errorf("gateway: load config: %w", err)
	}

	rt := runtime.New(0, "gateway: ")

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("gateway: open store: %w", err)
	}
	defer st.Close()

	var verb string
	if len(args) == 1 {
		verb = strings.ToUpper(args[0])
	}

	switch verb {
	case "CLEAR":
		if err := st.Clear(rt.Context()); err != nil {
			return fmt.Errorf("gateway: clear: %w", err)
		}
		rt.Log.Printf("cleared all tables")
		return nil
	case "CONFIG":
		cloud := cloudclient.New(cfg.Cloud.ScriptURL)
		cs := configsync.New(cloud, st, rt.Log)
		if err := cs.Sync(rt.Context()); err != nil {
			return fmt.Errorf("gateway: config sync: %w", err)
		}
		rt.Log.Printf("config sync complete")
		return nil
	case "":
		// fall through to the long-running service below.
	default:
		return fmt.Errorf("gateway: unrecognized argument %q", args[0])
	}

	if err := st.InitGateway(rt.Context()); err != nil {
		return fmt.Errorf("gateway: init: %w", err)
	}

	var pins radio.ModePins
	if cfg.Radio.Simulate {
		pins = radio.NewSimPins()
	} else {
		return fmt.Errorf("gateway: radio.simulate=false requires host-specific GPIO wiring not provided by this build")
	}
	link, err := radio.Open(radio.Config{Port: cfg.Radio.Port, BaudRate: cfg.Radio.BaudRate}, pins, rt.Log)
	if err != nil {
		return fmt.Errorf("gateway: open radio: %w", err)
	}
	defer link.Close()

	gl := gatewaylink.New(link, st, rt.Log)

	cloud := cloudclient.New(cfg.Cloud.ScriptURL)
	chat := cloudclient.NewChatClient()
	series := cloudclient.NewTimeSeriesClient(cfg.Cloud.ScriptURL)
	obs := observer.New(st, chat, series, cloud, false, rt.Log)
	cs := configsync.New(cloud, st, rt.Log)

	sched, err := scheduler.New(rt.Log)
	if err != nil {
		return fmt.Errorf("gateway: new scheduler: %w", err)
	}
	if err := sched.EveryDuration("observer-tick", cfg.SendCloudInterval(), obs.Tick); err != nil {
		return fmt.Errorf("gateway: register observer tick: %w", err)
	}
	if err := sched.EveryDuration("config-sync", cfg.ConfigUpdateInterval(), cs.Sync); err != nil {
		return fmt.Errorf("gateway: register config sync: %w", err)
	}
	if err := sched.DailyAt("battery-report", cfg.Timing.BatteryReportHour, 0, 0, obs.BatteryReport); err != nil {
		return fmt.Errorf("gateway: register battery report: %w", err)
	}
	sched.Start()

	rt.InstallSignalHandlers()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); gl.RunBeacon(rt.Context()) }()
	go func() { defer wg.Done(); gl.RunReceiver(rt.Context()) }()

	rt.Log.Printf("gateway running (radio=%s)", cfg.Radio.Port)
	<-rt.Context().Done()

	wg.Wait()
	if err := sched.Stop(); err != nil {
		rt.Log.Printf("scheduler stop: %v", err)
	}
	rt.Log.Printf("shutdown complete")
	return nil
}
