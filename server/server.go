package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/dapperlabs/fork-journal/auth"
	"github.com/dapperlabs/fork-journal/blockchain"
	"github.com/dapperlabs/fork-journal/controller"
	"github.com/dapperlabs/fork-journal/decoder"
	"github.com/dapperlabs/fork-journal/deployment"
	"github.com/dapperlabs/fork-journal/model"
	"github.com/dapperlabs/fork-journal/reconcile"
	"github.com/dapperlabs/fork-journal/server/config"
	"github.com/dapperlabs/fork-journal/server/ping"
	"github.com/dapperlabs/fork-journal/server/router"
	"github.com/dapperlabs/fork-journal/server/telemetry/sentry"
	"github.com/dapperlabs/fork-journal/storage"
	"github.com/dapperlabs/fork-journal/telemetry"
)

const shutdownTimeout = 15 * time.Second

func main() {
	sentry.InitializeSentry()
	defer sentry.Cleanup()

	logger := telemetry.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if config.Telemetry().TracingEnabled {
		tp, err := telemetry.NewProvider(ctx, config.Telemetry().ServiceName, trace.AlwaysSample())
		if err != nil {
			logger.WithError(err).Fatal("failed to start tracing")
		}
		defer telemetry.Cleanup(context.Background(), tp)
	}

	telemetry.Register()
	defer telemetry.UnRegister()

	if err := run(ctx, logger); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}

func run(ctx context.Context, logger *logrus.Logger) error {
	conf := config.Journal()

	store := newStore(conf)

	factory, forkPing, account, err := newFactory(config.Fork())
	if err != nil {
		return err
	}

	if err := ping.SetPingHandlers(store.Ping, map[string]ping.Check{"fork": forkPing}); err != nil {
		return err
	}

	options := []reconcile.Option{reconcile.WithQueueSize(conf.QueueSize)}
	if account != nil {
		options = append(options, reconcile.WithAccount(*account))
	}

	registry := decoder.NewRegistry(conf.ContractCacheSize)
	if conf.KnownContractsFile != "" {
		n, err := registry.LoadFile(conf.KnownContractsFile)
		if err != nil {
			return errors.Wrap(err, "failed to load known contracts")
		}
		logger.WithField("contracts", n).Info("loaded known contracts")
		options = append(options, reconcile.WithResolver(registry), reconcile.WithAutoDecode())
	}

	journals := controller.NewSessions(factory, conf.MaxSessions, options...)
	defer journals.Close()

	authenticator := auth.NewAuthenticator()
	entry := logrus.NewEntry(logger)

	r := router.InitializeRouter(router.Handlers{
		Journal:     controller.NewJournalHandler(journals, authenticator, entry.WithField("handler", "journal")),
		Deployments: controller.NewDeploymentsHandler(deployment.NewLedger(store), authenticator, entry.WithField("handler", "deployments")),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", conf.Port),
		Handler: r,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Infof("Fork journal server started on %s", srv.Addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("failed to shut down http server")
	}
	logger.Info("Fork journal server stopped")

	return nil
}

func newStore(conf config.JournalConfig) storage.Store {
	switch conf.StorageBackend {
	case storage.PostgreSQL:
		db := config.Database()
		return storage.NewPostgreSQL(&db)
	case "memory":
		return storage.NewInMemory()
	default:
		return storage.NewSqlite(conf.SqlitePath)
	}
}

// newFactory returns the fork backend, a check reaching it and the account sessions
// start executing as.
func newFactory(conf config.ForkConfig) (blockchain.Factory, ping.Check, *model.Address, error) {
	var account *model.Address
	if conf.Account != "" {
		a, err := model.NewAddressFromString(conf.Account)
		if err != nil {
			return nil, nil, nil, errors.Wrap(err, "invalid fork account")
		}
		account = &a
	}

	switch conf.Backend {
	case "memory":
		// memory forks are prepared ahead of time, rpc forks each hold a node lease
		pool := blockchain.NewPool(blockchain.NewMemoryFactory(), conf.PoolSize)
		return blockchain.WithTimeout(pool, conf.Timeout), func() error { return nil }, account, nil
	case "rpc":
		if len(conf.RPCURLs) == 0 {
			return nil, nil, nil, errors.New("no fork rpc urls configured")
		}
		var from model.Address
		if account != nil {
			from = *account
		}
		factory := blockchain.WithTimeout(blockchain.NewRPCFactory(conf.RPCURLs, from), conf.Timeout)
		return factory, rpcPing(conf.RPCURLs, conf.Timeout), account, nil
	default:
		return nil, nil, nil, errors.Errorf("unknown fork backend %q", conf.Backend)
	}
}

// rpcPing checks every fork node answers.
func rpcPing(urls []string, timeout time.Duration) ping.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		for _, url := range urls {
			client, err := rpc.DialContext(ctx, url)
			if err != nil {
				return errors.Wrap(err, url)
			}

			var version string
			err = client.CallContext(ctx, &version, "web3_clientVersion")
			client.Close()
			if err != nil {
				return errors.Wrap(err, url)
			}
		}
		return nil
	}
}
