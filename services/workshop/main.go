package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/events"
	"github.com/aquamarinepk/aqm/middleware"

	"github.com/workshopkit/workshop/pkg"
	"github.com/workshopkit/workshop/services/workshop/internal/api"
	"github.com/workshopkit/workshop/services/workshop/internal/jobcard"
	"github.com/workshopkit/workshop/services/workshop/internal/mongo"
	"github.com/workshopkit/workshop/services/workshop/internal/pushchannel"
	"github.com/workshopkit/workshop/services/workshop/internal/sqlite"
	"github.com/workshopkit/workshop/services/workshop/internal/workshop"
)

const (
	appNamespace = "WORKSHOP"
	appName      = "workshop"
	appVersion   = "0.1.0"
)

func main() {
	config, err := aqm.LoadConfig(appNamespace, os.Args[1:])
	if err != nil {
		log.Fatalf("%s(%s) cannot setup: %v", appName, appVersion, err)
	}

	logLevel, _ := config.GetString("log.level")
	logger := aqm.NewLogger(logLevel)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	var lifecycles []interface{}

	drafts, draftHooks, err := openDrafts(ctx, config, logger)
	if err != nil {
		log.Fatalf("%s(%s) cannot open draft store: %v", appName, appVersion, err)
	}
	lifecycles = append(lifecycles, draftHooks)

	clients := make(map[string]*aqm.ServiceClient, len(api.Resources))
	for _, resource := range api.Resources {
		client, err := api.NewServiceClient(config, resource)
		if err != nil {
			log.Fatalf("%s(%s) cannot create %s client: %v", appName, appVersion, resource, err)
		}
		clients[resource] = client
	}

	natsURL := config.GetStringOrDef("nats.url", "nats://localhost:4222")

	pub, err := pkg.NewNATSPublisher(natsURL)
	if err != nil {
		log.Fatalf("%s(%s) cannot connect to NATS publisher: %v", appName, appVersion, err)
	}

	sub, err := pkg.NewNATSSubscriber(natsURL, logger)
	if err != nil {
		log.Fatalf("%s(%s) cannot connect to NATS subscriber: %v", appName, appVersion, err)
	}

	channel := pushchannel.New(pushchannel.TransportFunc(
		func(ctx context.Context, topic string, handler events.HandlerFunc) (pushchannel.Subscription, error) {
			s, err := sub.Listen(ctx, topic, handler)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
	), logger)

	lifecycles = append(lifecycles,
		aqm.LifecycleHooks{OnStop: func(context.Context) error { return channel.Close() }},
		aqm.LifecycleHooks{OnStop: func(context.Context) error { return pub.Close() }},
		aqm.LifecycleHooks{OnStop: func(context.Context) error { return sub.Close() }},
	)

	catalogClient := api.NewCatalog(clients["services"], clients["inventory"])
	directory := api.NewDirectory(clients["customers"], clients["vehicles"])

	hd := workshop.HandlerDeps{
		Jobs:      api.NewJobStore(clients["jobcards"]),
		Invoices:  api.NewInvoiceStore(clients["invoices"]),
		Customers: directory,
		Vehicles:  directory,
		Catalog:   jobcard.NewCatalog(catalogClient, catalogClient, logger),
		Comments:  api.NewCommentStore(clients["comments"]),
		Drafts:    drafts,
		Publisher: pub,
		Channel:   channel,
	}

	handler := workshop.NewHandler(hd, config, logger)
	lifecycles = append(lifecycles, aqm.LifecycleHooks{
		OnStop: func(context.Context) error {
			handler.Sessions().Stop()
			return nil
		},
	})

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger:      logger,
		DisableCORS: true,
	})

	options := []aqm.Option{
		aqm.WithConfig(config),
		aqm.WithLogger(logger),
		aqm.WithHTTPMiddleware(stack...),
		aqm.WithHTTPServerModules("web.port", handler),
		aqm.WithLifecycle(lifecycles...),
		aqm.WithHealthChecks(appName),
	}

	ms := aqm.NewMicro(options...)
	logger.Infof("Starting %s(%s)", appName, appVersion)

	if err := ms.Run(ctx); err != nil {
		log.Fatalf("%s(%s) stopped: %v", appName, appVersion, err)
	}

	logger.Infof("%s(%s) stopped", appName, appVersion)
}

// openDrafts returns the draft KV selected by drafts.backend.
func openDrafts(ctx context.Context, config *aqm.Config, logger aqm.Logger) (jobcard.KV, aqm.LifecycleHooks, error) {
	backend := config.GetStringOrDef("drafts.backend", "sqlite")

	switch backend {
	case "sqlite":
		path := config.GetStringOrDef("drafts.sqlite.path", "workshop-drafts.db")
		kv, err := sqlite.Open(path)
		if err != nil {
			return nil, aqm.LifecycleHooks{}, err
		}
		logger.Info("draft store ready", "backend", backend, "path", path)
		return kv, aqm.LifecycleHooks{OnStop: func(context.Context) error { return kv.Close() }}, nil

	case "mongo":
		repo := mongo.NewDraftRepo(config, logger)
		if err := repo.Start(ctx); err != nil {
			return nil, aqm.LifecycleHooks{}, err
		}
		logger.Info("draft store ready", "backend", backend)
		return repo, aqm.LifecycleHooks{OnStop: repo.Stop}, nil

	case "memory":
		logger.Info("draft store ready", "backend", backend)
		return jobcard.NewMemoryKV(), aqm.LifecycleHooks{}, nil

	default:
		return nil, aqm.LifecycleHooks{}, fmt.Errorf("unknown drafts.backend %q", backend)
	}
}
