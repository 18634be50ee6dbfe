package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/next-trace/scg-service-admin/adapters/inmemory"
	"github.com/next-trace/scg-service-admin/adapters/kafka"
	natsad "github.com/next-trace/scg-service-admin/adapters/nats"
	"github.com/next-trace/scg-service-admin/adapters/rabbitmq"
	"github.com/next-trace/scg-service-admin/adapters/tracing"
	"github.com/next-trace/scg-service-admin/admin"
	"github.com/next-trace/scg-service-admin/catalog/sqlite"
	"github.com/next-trace/scg-service-admin/config"
	cbus "github.com/next-trace/scg-service-admin/contract/bus"
	"github.com/next-trace/scg-service-admin/invoke"
	"github.com/next-trace/scg-service-admin/notify"
	"github.com/next-trace/scg-service-admin/registry"
	"github.com/next-trace/scg-service-admin/servicebus"
)

// runtime is the admin stack assembled from the configuration.
type runtime struct {
	store      *sqlite.Store
	registry   *registry.Registry
	bus        *servicebus.Bus
	subscriber cbus.EventSubscriber

	closers []func()
}

func openRuntime(cfg config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	rt.store = store
	rt.closers = append(rt.closers, func() { _ = store.Close() })

	pub, sub, closeBroker, err := openBroker(cfg, logger)
	if err != nil {
		rt.close()
		return nil, err
	}

	rt.subscriber = sub
	rt.closers = append(rt.closers, closeBroker)

	rt.registry = registry.New(store, cfg.ClusterID, logger)
	if err := invoke.RegisterBuiltins(rt.registry); err != nil {
		rt.close()
		return nil, err
	}

	engine := invoke.New(rt.registry, logger, invoke.WithSimpleIO(cfg.SimpleIO()))
	notifier := notify.New(pub, logger, notify.WithPolicy(cfg.NotifyPolicy()), notify.WithTopic(cfg.BroadcastTopic))
	facade := admin.New(store, rt.registry, engine, notifier, cfg.Admin(), logger)

	rt.bus = servicebus.New(logger, servicebus.WithMiddleware(servicebus.LogRequests(logger)))
	if err := admin.Register(rt.bus, facade); err != nil {
		rt.close()
		return nil, err
	}

	return rt, nil
}

func (rt *runtime) close() {
	if rt.bus != nil {
		_ = rt.bus.Close()
	}

	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// openBroker connects the configured broadcast transport.
func openBroker(cfg config.Config, logger *slog.Logger) (cbus.EventPublisher, cbus.EventSubscriber, func(), error) {
	prop := tracing.New()
	topic := cfg.BroadcastTopic

	switch cfg.Broker {
	case config.BrokerNATS:
		ad, cleanup, err := natsad.NewWithNATS(natsad.Config{URL: cfg.NATSURL, Name: "scgadmin", MaxReconnects: -1, Logger: logger})
		if err != nil {
			return nil, nil, nil, err
		}

		ad.Propagator, ad.Logger = prop, logger

		return ad, subjectSubscriber{ad: ad, subject: topic}, cleanup, nil

	case config.BrokerRabbitMQ:
		ad, cleanup, err := rabbitmq.NewWithAMQPConn(rabbitmq.Config{URL: cfg.AMQPURL})
		if err != nil {
			return nil, nil, nil, err
		}

		ad.Propagator, ad.Logger, ad.Exchange = prop, logger, topic

		return ad, ad, cleanup, nil

	case config.BrokerKafka:
		ad, cleanup, err := kafka.NewWithKgo(kafka.Config{Brokers: cfg.KafkaBrokers, ClientID: "scgadmin"})
		if err != nil {
			return nil, nil, nil, err
		}

		ad.Propagator, ad.Logger, ad.Topic = prop, logger, topic

		return ad, ad, cleanup, nil

	case config.BrokerInMemory:
		ad := inmemory.New()
		return ad, ad, func() {}, nil

	default:
		return nil, nil, nil, errors.New("unknown broker " + cfg.Broker)
	}
}

// subjectSubscriber subscribes a NATS adapter to a configured broadcast subject.
type subjectSubscriber struct {
	ad      *natsad.Adapter
	subject string
}

func (s subjectSubscriber) SubscribeChanges(ctx context.Context, h cbus.ChangeHandler) (func() error, error) {
	return s.ad.SubscribeSubject(ctx, s.subject, h)
}
