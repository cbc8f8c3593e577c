package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/bcrypt"

	"mobilecontrol/adb"
	"mobilecontrol/client"
	"mobilecontrol/config"
	"mobilecontrol/ios"
	"mobilecontrol/models"
	"mobilecontrol/service"
)

// Version is set at build time.
var Version = "dev"

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to a YAML config file (environment variables override it)",
	EnvVars: []string{"MOBILECONTROL_CONFIG"},
}

func main() {
	app := &cli.App{
		Name:    "mobilecontrol",
		Usage:   "Control plane for iOS and Android devices",
		Version: Version,
		Flags:   []cli.Flag{configFlag},
		Commands: []*cli.Command{
			serveCommand,
			devicesCommand,
			watchCommand,
			hashTokenCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Run the REST and WebSocket servers",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "port", Usage: "HTTP port (overrides config)"},
		&cli.IntFlag{Name: "ws-port", Usage: "WebSocket port (overrides config)"},
	},
	Action: func(c *cli.Context) error {
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return err
		}
		if c.IsSet("port") {
			cfg.Server.Port = c.Int("port")
		}
		if c.IsSet("ws-port") {
			cfg.Server.WSPort = c.Int("ws-port")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

var devicesCommand = &cli.Command{
	Name:  "devices",
	Usage: "List connected devices once and exit",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "json", Usage: "Print JSON instead of a table"},
	},
	Action: func(c *cli.Context) error {
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return err
		}
		log.SetLevel(log.ErrorLevel)

		dir := service.NewDirectory(nil, cfg.PollInterval(), enumerators(cfg)...)
		devices, err := dir.ListDevices(c.Context)
		if err != nil {
			return err
		}

		if c.Bool("json") {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(devices)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPLATFORM\tKIND\tOS\tSCREEN")
		for _, d := range devices {
			screen := "-"
			if d.Screen != nil {
				screen = fmt.Sprintf("%dx%d@%.2g", d.Screen.Width, d.Screen.Height, d.Screen.Scale)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", d.ID, d.Name, d.Platform, d.Kind, d.OSVersion, screen)
		}
		return w.Flush()
	},
}

var watchCommand = &cli.Command{
	Name:  "watch",
	Usage: "Stream device and command events from a running server",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "url", Usage: "WebSocket URL", Value: fmt.Sprintf("ws://localhost:%d/", config.DefaultWSPort), EnvVars: []string{"MOBILECONTROL_WS_URL"}},
		&cli.StringFlag{Name: "token", Usage: "Bearer token", EnvVars: []string{"AUTH_TOKEN"}},
	},
	Action: func(c *cli.Context) error {
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		wc := client.New(c.String("url"), c.String("token"), models.SubDeviceEvents, models.SubCommandResults)
		err := wc.Run(ctx, func(e models.Event) {
			data, _ := json.Marshal(e.Data)
			fmt.Printf("%s %-20s %s\n", time.Now().Format("15:04:05"), e.Type, data)
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

var hashTokenCommand = &cli.Command{
	Name:      "hash-token",
	Usage:     "Print a bcrypt hash of a token for use as AUTH_TOKEN",
	ArgsUsage: "<token>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("usage: mobilecontrol hash-token <token>", 2)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(c.Args().First()), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		fmt.Println(string(hash))
		return nil
	},
}

// enumerators returns the device backends available on this host. simctl
// only exists on macOS.
func enumerators(cfg *config.Config) []service.Enumerator {
	list := []service.Enumerator{
		&adb.Enumerator{Client: adb.NewADBClient(cfg.Devices.ADBPath)},
	}
	if runtime.GOOS == "darwin" {
		list = append(list, &ios.SimulatorEnumerator{Simctl: ios.NewSimctl()})
	}
	return append(list, ios.RealDeviceEnumerator{})
}
