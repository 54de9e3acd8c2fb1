package main

import (
	"context"
	"database/sql"
	_ "expvar"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	zipkinsql "github.com/jcchavezs/zipkin-instrumentation-sql"
	"github.com/openzipkin/zipkin-go"
	zipkinhttp "github.com/openzipkin/zipkin-go/middleware/http"
	"github.com/openzipkin/zipkin-go/reporter"
	zipkinreporter "github.com/openzipkin/zipkin-go/reporter/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/eventfold/bank-cqrs-go/account"
	"github.com/eventfold/bank-cqrs-go/bridge"
	"github.com/eventfold/bank-cqrs-go/eventbus"
	"github.com/eventfold/bank-cqrs-go/eventsourcing"
	"github.com/eventfold/bank-cqrs-go/eventstore"
	"github.com/eventfold/bank-cqrs-go/eventstore/postgres"
	"github.com/eventfold/bank-cqrs-go/projection"
	"github.com/eventfold/bank-cqrs-go/rest"
	"github.com/eventfold/bank-cqrs-go/saga"
	"github.com/eventfold/bank-cqrs-go/serialization"
)

const (
	snapshotFrequency = 50
	denialLimit       = 3
	exchangeName      = "account-events"
)

var (
	inUseConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_conn_in_use",
		Help: "Number of in-use database connections",
	})
	idleConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_conn_idle",
		Help: "Number of idle database connections",
	})
	openConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_conn_open",
		Help: "Number of open database connections",
	})
	maxOpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_conn_max",
		Help: "Number of max open database connections",
	})
)

func noTracingHTTPHandler(h http.Handler) http.Handler {
	return h
}

func main() {
	logger := logrus.New()
	log := logrus.NewEntry(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rep reporter.Reporter
	if zipkinURL, ok := os.LookupEnv("ZIPKIN_URL"); ok {
		rep = zipkinreporter.NewReporter(zipkinURL)
		defer closeResource(rep, log)
	}

	tracingHandler := noTracingHTTPHandler
	var store *eventstore.NotifyingStore
	if postgresHost, ok := os.LookupEnv("POSTGRES_HOST"); ok {
		postgresPort := requireEnvVariable("POSTGRES_PORT", log)
		postgresUser := requireEnvVariable("POSTGRES_USER", log)
		postgresPassword := requireEnvVariable("POSTGRES_PASSWORD", log)
		postgresDB := requireEnvVariable("POSTGRES_DB", log)

		psqlInfo := fmt.Sprintf("host=%s port=%v user=%s password=%s dbname=%s sslmode=disable",
			postgresHost,
			postgresPort,
			postgresUser,
			postgresPassword,
			postgresDB,
		)
		driverName := "postgres"
		tracingHandler, driverName = buildTracingHandler(driverName, rep, log)

		db, err := sql.Open(driverName, psqlInfo)
		if err != nil {
			log.WithError(err).Fatal("could not open database")
		}
		defer closeResource(db, log)
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(5)
		waitForDBConnection(db, log)
		postgres.MigrateSchema(db, "infrastructure/schema/postgres")

		dbMetrics(db)

		log.Info("using postgres event store")
		store = eventstore.NewNotifyingStore(eventstore.NewSerializingEventStore(
			postgres.NewEventStore(db),
			serialization.NewMsgpackEventSerializer(),
		))
	} else {
		log.Info("using in-memory event store")
		store = eventstore.NewNotifyingStore(eventstore.NewInMemoryStore())
	}

	origin := nodeID()
	log = log.WithField("node", origin)

	bus := eventbus.New(origin)
	store.Subscribe(bus.Publish)

	view := projection.NewAccountView(log)
	bus.Subscribe(view)

	workflows := saga.NewManager(log)
	workflows.Register(saga.NewCloseAccountSaga(denialLimit, bus, log))
	bus.Subscribe(workflows)

	dispatcher := eventsourcing.NewDispatcher(store, snapshotFrequency, log)

	// Rebuild the read model and workflow state before anything is served
	// or relayed. The bridge publisher subscribes after the replay so that
	// replayed events are not pushed outward again on every restart.
	if err := store.Replay(ctx); err != nil {
		log.WithError(err).Fatal("replay failed")
	}

	if amqpURL, ok := os.LookupEnv("AMQP_URL"); ok {
		serializer := serialization.NewMsgpackEventSerializer()

		publisher := bridge.NewPublisher(amqpURL, exchangeName, origin, serializer, log)
		defer publisher.Close()
		bus.Subscribe(publisher)

		consumer := bridge.NewConsumer(bridge.NewConsume(amqpURL, exchangeName, exchangeName+"."+origin), bus, serializer, log)
		go func() {
			if err := consumer.Listen(ctx); err != context.Canceled {
				log.WithError(err).Error("bridge consumer stopped")
			}
		}()
		log.Info("distribution bridge connected")
	}

	go reportAccounts(ctx, view, log)

	http.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: ":8081"}
	go func() {
		log.Info("serving metrics on port 8081")
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server stopped")
		}
	}()

	server := &http.Server{
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		IdleTimeout:  20 * time.Second,
		Addr:         ":8080",
		Handler:      tracingHandler(rest.NewServer(dispatcher, view, log)),
	}
	go func() {
		log.Info("serving http on port 8080")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("http server stopped")
		}
	}()

	if _, ok := os.LookupEnv("SIMULATE"); ok {
		go simulate(ctx, dispatcher, log)
	}

	<-ctx.Done()
	log.Info("shutting down")

	dispatcher.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http server shutdown failed")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("metrics server shutdown failed")
	}
}

// nodeID tags events published by this node. Set NODE_ID to keep a stable
// broker queue across restarts; an ephemeral node gets a random identity.
func nodeID() string {
	if id, ok := os.LookupEnv("NODE_ID"); ok {
		return id
	}
	return uuid.New().String()
}

// reportAccounts periodically logs the read model's listing.
func reportAccounts(ctx context.Context, view *projection.AccountView, log *logrus.Entry) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, acc := range view.ListAccounts() {
				log.WithFields(logrus.Fields{
					"account":  acc.ID,
					"customer": acc.CustomerName,
					"balance":  acc.Balance,
				}).Info("account report")
			}
		}
	}
}

// simulate drives random traffic against two well-known accounts. Uncovered
// withdrawals are expected and eventually trip the account closing workflow.
func simulate(ctx context.Context, dispatcher *eventsourcing.Dispatcher, log *logrus.Entry) {
	seed := []account.CreateAccount{
		{ID: uuid.New(), AccountID: "A1", CustomerName: "kermit the frog"},
		{ID: uuid.New(), AccountID: "A2", CustomerName: "john the law"},
	}
	for _, cmd := range seed {
		if err := dispatcher.SendAndWait(ctx, cmd); err != nil && err != account.Exists {
			log.WithError(err).Error("simulation setup failed")
			return
		}
	}

	for i := 0; i < 100; i++ {
		id := account.ID("A1")
		if rand.Intn(2) == 1 {
			id = "A2"
		}
		amount := int64(rand.Intn(100) + 1)
		if rand.Intn(2) == 1 {
			dispatcher.Send(ctx, account.DepositAmount{ID: uuid.New(), AccountID: id, Amount: amount})
		} else {
			dispatcher.Send(ctx, account.WithdrawAmount{ID: uuid.New(), AccountID: id, Amount: amount})
		}
	}
	dispatcher.Wait()
	log.Info("simulation finished")
}

func buildTracingHandler(driverName string, rep reporter.Reporter, log *logrus.Entry) (func(http.Handler) http.Handler, string) {
	if rep == nil {
		return noTracingHTTPHandler, driverName
	}

	endpoint, err := zipkin.NewEndpoint("bank-cqrs", ":0")
	if err != nil {
		log.WithError(err).Fatal("unable to create local endpoint")
	}

	tracer, err := zipkin.NewTracer(rep, zipkin.WithLocalEndpoint(endpoint))
	if err != nil {
		log.WithError(err).Fatal("unable to create tracer")
	}

	driverName, err = zipkinsql.Register(driverName, tracer, zipkinsql.WithAllTraceOptions(), zipkinsql.WithAllowRootSpan(false))
	if err != nil {
		log.WithError(err).Fatal("unable to register zipkin driver")
	}

	return zipkinhttp.NewServerMiddleware(tracer, zipkinhttp.TagResponseSize(true)), driverName
}

func requireEnvVariable(v string, log *logrus.Entry) string {
	val, ok := os.LookupEnv(v)
	if !ok {
		log.Fatalf("%s not specified", v)
	}
	return val
}

func dbMetrics(db *sql.DB) {
	go func() {
		for {
			s := db.Stats()
			inUseConnections.Set(float64(s.InUse))
			idleConnections.Set(float64(s.Idle))
			openConnections.Set(float64(s.OpenConnections))
			maxOpenConnections.Set(float64(s.MaxOpenConnections))
			time.Sleep(1 * time.Second)
		}
	}()
}

func waitForDBConnection(db *sql.DB, log *logrus.Entry) {
	var err error
	for i := 0; i < 30; i++ {
		err = db.Ping()
		if err == nil {
			break
		}
		time.Sleep(time.Second * 1)
	}
	if err != nil {
		log.WithError(err).Fatal("database not reachable")
	}
}

func closeResource(c io.Closer, log *logrus.Entry) {
	if err := c.Close(); err != nil {
		log.WithError(err).Error("failed to close resource")
	}
}
