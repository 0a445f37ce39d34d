package cmd

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c64bridge/vicebridge/vice"
)

// CustomFlag defines a custom CLI option.
type CustomFlag struct {
	Name         string
	DefaultValue any
	Usage        string
	Type         string // "string", "int", "bool"
}

// ParseFlags builds Config from standard and custom flags, and from the display environment.
func ParseFlags(customFlags []CustomFlag) (*vice.Config, error) {
	config := &vice.Config{CustomFlags: make(map[string]string)}

	defaultBinary := os.Getenv("VICE_BINARY")
	if defaultBinary == "" {
		defaultBinary = vice.DefaultEmulatorBinary
	}
	binary := flag.String("vice", defaultBinary, "Emulator binary, defaults to $VICE_BINARY or x64sc")
	host := flag.String("host", vice.DefaultHost, "Host the binary monitor listens on")
	port := flag.Int("port", vice.DefaultPort, "Binary monitor port")
	port2 := flag.Int("port2", 6510, "Binary monitor port for the autostart run, 0 to skip it")
	visible := flag.Bool("visible", false, "Show the emulator window instead of using a virtual display")
	warp := flag.Bool("warp", true, "Run the emulator in warp mode")
	xvfbDisplay := flag.Int("xvfb-display", 99, "Display number for the virtual display")
	timeout := flag.Duration("timeout", 10*time.Second, "Time allowed for the monitor port to open")
	mock := flag.Bool("mock", false, "Run against the in-process mock monitor instead of an emulator")
	storage := flag.String("storage", "", "Directory to persist machine snapshots in, empty to skip")
	timingsChart := flag.String("timings-chart", "", "File to write the timings chart to (.png, .jpg or .svg)")
	extraArgs := flag.String("args", "", "Extra emulator arguments, space separated")

	customPtrs := make(map[string]interface{})
	for _, cf := range customFlags {
		switch cf.Type {
		case "string":
			customPtrs[cf.Name] = flag.String(cf.Name, cf.DefaultValue.(string), cf.Usage)
		case "int":
			customPtrs[cf.Name] = flag.Int(cf.Name, cf.DefaultValue.(int), cf.Usage)
		case "bool":
			customPtrs[cf.Name] = flag.Bool(cf.Name, cf.DefaultValue.(bool), cf.Usage)
		}
	}

	flag.Parse()

	config.EmulatorBinary = *binary
	config.Host = *host
	config.Port = *port
	config.AutostartPort = *port2
	config.Visible = *visible
	config.Warp = *warp
	config.VirtualDisplay = *xvfbDisplay
	config.Timeout = *timeout
	config.Mock = *mock
	config.StorageDir = *storage
	config.TimingsChart = *timingsChart
	config.ExtraArgs = strings.Fields(*extraArgs)
	config.Display = vice.DisplayConfigFromEnv(os.Getenv)

	for name, ptr := range customPtrs {
		switch v := ptr.(type) {
		case *string:
			config.CustomFlags[name] = *v
		case *int:
			config.CustomFlags[name] = strconv.Itoa(*v)
		case *bool:
			config.CustomFlags[name] = strconv.FormatBool(*v)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
