package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/endpoint-selector/internal/application"
	"github.com/eugenenazirov/endpoint-selector/internal/config"
	"github.com/eugenenazirov/endpoint-selector/internal/endpoint"
	"github.com/eugenenazirov/endpoint-selector/internal/logging"
	"github.com/eugenenazirov/endpoint-selector/internal/selector"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "endpointctl:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	app := kingpin.New("endpointctl", "Inspect and change the persisted endpoint selection")
	configFile := app.Flag("config", "Path to YAML configuration file").String()
	hostname := app.Flag("hostname", "Page hostname used to pick the default endpoint").String()
	pageURL := app.Flag("page-url", "Full page URL; its scheme selects the local cluster port").String()
	storePath := app.Flag("store-path", "Path of the file store").String()
	logLevel := app.Flag("log-level", "Minimum log level written to stderr").Default("warn").Enum("debug", "info", "warn", "error")
	asJSON := app.Flag("json", "Print machine-readable JSON").Bool()

	listCmd := app.Command("list", "List selectable endpoints")
	getCmd := app.Command("get", "Print the selected endpoint name")
	setCmd := app.Command("set", "Select an endpoint and persist it")
	setName := setCmd.Arg("name", "Endpoint name").Required().String()
	urlsCmd := app.Command("urls", "Print the URLs derived from the selected endpoint")

	command, err := app.Parse(args)
	if err != nil {
		return err
	}

	storeDriver := config.StoreFile
	cfg, err := config.Load(&config.CLIOverrides{
		ConfigFile:  *configFile,
		Hostname:    hostname,
		PageURL:     pageURL,
		StoreDriver: &storeDriver,
		StorePath:   storePath,
	})
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.NewConsole(*logLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := application.NewStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	sel := application.NewSelector(cfg, store, logger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.LoadTimeout)
	defer cancel()
	if err := sel.Load(ctx); err != nil {
		logger.Warn("using default endpoint", zap.Error(err))
	}

	out := printer{w: stdout, json: *asJSON}
	switch command {
	case listCmd.FullCommand():
		return out.endpoints(sel.EndpointName(), sel.Endpoints())
	case getCmd.FullCommand():
		return out.name(sel.EndpointName())
	case setCmd.FullCommand():
		if err := sel.SetEndpointName(endpoint.Name(*setName)); err != nil {
			return err
		}
		flushCtx, flushCancel := context.WithTimeout(context.Background(), cfg.PersistTimeout+time.Second)
		defer flushCancel()
		if err := sel.Flush(flushCtx); err != nil {
			return err
		}
		return out.urls(sel.URLs())
	case urlsCmd.FullCommand():
		return out.urls(sel.URLs())
	}
	return fmt.Errorf("unhandled command %q", command)
}

type printer struct {
	w    io.Writer
	json bool
}

func (p printer) encode(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p printer) endpoints(current endpoint.Name, endpoints []endpoint.Descriptor) error {
	if p.json {
		return p.encode(map[string]any{"current": current, "endpoints": endpoints})
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	for _, e := range endpoints {
		marker := " "
		if e.Name == current {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", marker, e.Name, e.FriendlyName)
	}
	return tw.Flush()
}

func (p printer) name(name endpoint.Name) error {
	if p.json {
		return p.encode(map[string]any{"name": name})
	}
	_, err := fmt.Fprintln(p.w, name)
	return err
}

func (p printer) urls(set selector.URLSet) error {
	if p.json {
		return p.encode(set)
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "endpoint\t%s\n", set.Name)
	fmt.Fprintf(tw, "rpc\t%s\n", set.RPCURL)
	fmt.Fprintf(tw, "api\t%s\n", set.APIURL)
	fmt.Fprintf(tw, "websocket\t%s\n", set.APIWebsocketURL)
	fmt.Fprintf(tw, "metrics\t%s\n", set.MetricsDashboardURL)
	return tw.Flush()
}
