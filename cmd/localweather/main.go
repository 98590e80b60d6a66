package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rwilli/localweather/internal/app"
	"github.com/rwilli/localweather/internal/log"
	"github.com/rwilli/localweather/pkg/config"
)

const version = "1.2-" + runtime.GOOS + "/" + runtime.GOARCH

func main() {
	cfgFile := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	proxyAddr := flag.String("proxy-addr", "", "Local IPv4 address the interceptor binds; overrides gateway.listen_addr")
	proxyPort := flag.Int("proxy-port", 0, "Proxy listening port advertised to the gateway; overrides gateway.port")
	gatewayAddr := flag.String("gateway-addr", "", "IP of the hardware gateway for the proxy configuration call; overrides gateway.gateway_addr")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("localweather %s\n", version)
		os.Exit(0)
	}

	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	filename, _ := filepath.Abs(*cfgFile)
	provider := config.NewYAMLProvider(filename)

	cfgData, err := provider.LoadConfig()
	if err != nil {
		log.Errorf("Failed to load configuration. Did you pass the -config flag? Run with -h for help: %v", err)
		os.Exit(1)
	}

	if cfgData.Gateway != nil {
		if *proxyAddr != "" {
			cfgData.Gateway.ListenAddr = *proxyAddr
		}
		if *proxyPort != 0 {
			cfgData.Gateway.Port = *proxyPort
		}
		if *gatewayAddr != "" {
			cfgData.Gateway.GatewayAddr = *gatewayAddr
		}
	}

	application := app.New(staticProvider{cfgData}, log.GetSugaredLogger())
	if err := application.Run(context.Background()); err != nil {
		log.Errorf("Application error: %v", err)
		os.Exit(1)
	}
}

// staticProvider serves the already-loaded (and flag-overridden) config.
type staticProvider struct {
	cfg *config.ConfigData
}

func (p staticProvider) LoadConfig() (*config.ConfigData, error) { return p.cfg, nil }
func (p staticProvider) Close() error                            { return nil }
