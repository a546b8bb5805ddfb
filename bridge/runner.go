package bridge

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/viant/mcp-bridge/internal/logx"
)

const stopTimeout = 10 * time.Second

// Run parses args and serves until the inbound side ends or the process is signalled.
// SIGHUP reloads the configuration file; SIGINT and SIGTERM stop.
func Run(args []string) error {
	return RunWithProcessor(args, nil)
}

// RunWithProcessor is Run with a message processor (see New).
func RunWithProcessor(args []string, messageProcessor any) error {
	options := &Options{}
	if _, err := flags.ParseArgs(options, args); err != nil {
		return err
	}
	if options.Console {
		logx.Console()
	}
	ctx := context.Background()
	config, err := options.Config(ctx)
	if err != nil {
		return err
	}
	logx.Configure(config.LogLevel)
	service, err := New(ctx, config, messageProcessor)
	if err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	if err = service.Start(ctx); err != nil {
		_ = service.Stop(ctx, false)
		return err
	}
	for {
		select {
		case sig := <-signals:
			if sig == syscall.SIGHUP {
				reload(ctx, service, options)
				continue
			}
			logx.Log.Info().Str("signal", sig.String()).Msg("stopping")
			return stop(service)
		case <-service.Done():
			return stop(service)
		}
	}
}

func reload(ctx context.Context, service *Service, options *Options) {
	if options.ConfigURL == "" {
		logx.Log.Warn().Msg("reload requested without --config; ignoring")
		return
	}
	next, err := options.Config(ctx)
	if err == nil {
		err = service.Reload(ctx, next)
	}
	if err != nil {
		logx.Log.Error().Err(err).Msg("failed to reload configuration")
	}
}

func stop(service *Service) error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return service.Stop(ctx, false)
}
