package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	kitlog "github.com/go-kit/log"
	"github.com/grafana/dskit/modules"
	"github.com/grafana/dskit/server"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"

	"github.com/aircastfm/aircast/modules/proxy"
	"github.com/aircastfm/aircast/modules/relay"
)

const (
	Server string = "server"

	Relay string = "relay"
	Proxy string = "proxy"

	All string = "all"
)

func (a *App) setupModuleManager() error {
	mm := modules.NewManager(kitlog.NewLogfmtLogger(os.Stderr))
	mm.RegisterModule(Server, a.initServer, modules.UserInvisibleModule)

	mm.RegisterModule(Relay, a.initRelay)
	mm.RegisterModule(Proxy, a.initProxy)

	mm.RegisterModule(All, nil)

	deps := map[string][]string{
		// Server:       nil,
		Relay: {Server},
		Proxy: {Server},

		All: {Relay, Proxy},
	}

	for mod, targets := range deps {
		if err := mm.AddDependency(mod, targets...); err != nil {
			return err
		}
	}

	a.ModuleManager = mm

	return nil
}

func (a *App) initRelay() (services.Service, error) {
	r, err := relay.New(a.cfg.Relay, a.logger)
	if err != nil {
		return nil, errors.Wrap(err, "unable to init relay")
	}

	r.RegisterRoutes(a.Server.HTTP)

	return r, nil
}

func (a *App) initProxy() (services.Service, error) {
	p, err := proxy.New(a.cfg.Proxy, a.logger)
	if err != nil {
		return nil, errors.Wrap(err, "unable to init proxy")
	}

	p.RegisterRoutes(a.Server.HTTP)

	return p, nil
}

func (a *App) initServer() (services.Service, error) {
	a.cfg.Server.MetricsNamespace = metricsNamespace
	a.cfg.Server.ExcludeRequestInLog = true
	a.cfg.Server.RegisterInstrumentation = true
	a.cfg.Server.Log = kitlog.NewLogfmtLogger(os.Stderr)

	// The default middleware chain wraps the ResponseWriter in types that
	// http.ResponseController cannot unwrap, which breaks EnableFullDuplex
	// on the broadcast ingest path.
	a.cfg.Server.DoNotAddDefaultHTTPMiddleware = true
	a.cfg.Server.HTTPMiddleware = httpMiddleware(a.logger)

	// Listener and broadcaster connections stay open for the lifetime of a
	// broadcast, so the server must not impose read, write, or idle deadlines.
	a.cfg.Server.HTTPServerReadTimeout = 0
	a.cfg.Server.HTTPServerWriteTimeout = 0
	a.cfg.Server.HTTPServerIdleTimeout = 0

	server, err := server.New(a.cfg.Server)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create server")
	}

	servicesToWaitFor := func() []services.Service {
		svs := []services.Service(nil)
		for m, s := range a.serviceMap {
			// Server should not wait for itself.
			if m != Server {
				svs = append(svs, s)
			}
		}

		return svs
	}

	a.Server = server

	serverDone := make(chan error, 1)

	runFn := func(ctx context.Context) error {
		go func() {
			defer close(serverDone)
			serverDone <- server.Run()
		}()

		select {
		case <-ctx.Done():
			return nil
		case err := <-serverDone:
			if err != nil {
				return err
			}

			return fmt.Errorf("server stopped unexpectedly")
		}
	}

	stoppingFn := func(_ error) error {
		// wait until all modules are done, and then shutdown server.
		for _, s := range servicesToWaitFor() {
			_ = s.AwaitTerminated(context.Background())
		}

		// shutdown HTTP and gRPC servers (this also unblocks Run)
		server.Shutdown()

		// if not closed yet, wait until server stops.
		<-serverDone
		slog.Info("server stopped")
		return nil
	}

	return services.NewBasicService(nil, runFn, stoppingFn), nil
}
