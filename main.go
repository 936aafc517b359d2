package main

import (
	"context"
	"flag"
	stdlog "log"
	"time"

	"go.uber.org/zap"

	"github.com/orgsignal/taskrouter/pkg/api"
	"github.com/orgsignal/taskrouter/pkg/audit"
	"github.com/orgsignal/taskrouter/pkg/config"
	"github.com/orgsignal/taskrouter/pkg/escalation"
	"github.com/orgsignal/taskrouter/pkg/featureflag"
	"github.com/orgsignal/taskrouter/pkg/ingest"
	"github.com/orgsignal/taskrouter/pkg/notify"
	"github.com/orgsignal/taskrouter/pkg/profile"
	"github.com/orgsignal/taskrouter/pkg/rules"
	"github.com/orgsignal/taskrouter/pkg/store"
	"github.com/orgsignal/taskrouter/pkg/system"
	"github.com/orgsignal/taskrouter/pkg/task"
)

func main() {
	var (
		debug      bool
		configPath string
	)
	flag.BoolVar(&debug, "debug", false, "enables debug mode")
	flag.StringVar(&configPath, "config", "", "path to the config file")
	flag.Parse()

	log := setupLogger(debug)
	log.With("version", system.Version).Info("Starting taskrouter")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Error loading taskrouter config: %v", err)
	}
	cfg.Defaults()

	if debug {
		log.Infof("%#v", cfg)
	}

	taskStore, instanceStore, eventStore, flagStore := buildStores(log, cfg)

	profiles := profile.NewProvider(log)
	if cfg.Profiles.Path != "" {
		_ = profiles.LoadFile(cfg.Profiles.Path)
	}

	engine := rules.NewEngine(log)
	if len(cfg.Rules.Paths) > 0 {
		if _, err := engine.ReloadFiles(cfg.Rules.Paths); err != nil {
			log.Fatalf("Error loading rule sources: %v", err)
		}
	}

	policies := escalation.NewStaticProvider(log)
	if cfg.Rules.PolicyPath != "" {
		if err := policies.LoadFile(cfg.Rules.PolicyPath); err != nil {
			log.Warnf("Error loading escalation policies, continuing without: %v", err)
		}
	}

	recorder := buildAuditRecorder(log, cfg)
	notifier := buildNotifier(log, cfg)

	flags := featureflag.NewService(flagStore, log)
	lifecycle := task.NewManager(taskStore, profiles, log)
	scheduler := escalation.NewScheduler(taskStore, lifecycle, instanceStore, eventStore,
		policies, notifier, flags, log)
	processor := ingest.NewProcessor(engine, lifecycle, scheduler, notifier, recorder, log)

	limits := escalation.Limits{
		TaskLimit:     cfg.Scheduler.TaskLimit,
		InstanceLimit: cfg.Scheduler.InstanceLimit,
	}
	go runSweepLoop(log, scheduler, cfg.SweepInterval(), limits)

	server := api.NewServer(log.Desugar(), cfg, debug)
	err = server.RegisterAll([]api.APIController{
		api.NewSignalController(processor, flags, log),
		api.NewTaskController(lifecycle, scheduler, recorder, log),
		api.NewFlagController(flagStore, flags, recorder, log),
		api.NewRuleController(engine, cfg.Rules.Paths, recorder, log),
		api.NewSchedulerController(scheduler, limits, recorder, log),
	})
	if err != nil {
		log.Fatalf("Error registering taskrouter controllers: %v", err)
	}

	server.Listen()
}

// buildStores selects the persistence backend. All four contracts come from
// the same backend so a Task and its escalation instances share a store.
func buildStores(log *zap.SugaredLogger, cfg config.Config) (task.Store, escalation.InstanceStore, escalation.EventStore, featureflag.Store) {
	switch cfg.Storage.Driver {
	case "sqlite":
		s, err := store.OpenSQLite(cfg.Storage.Path)
		if err != nil {
			log.Fatalf("Error opening sqlite store at %s: %v", cfg.Storage.Path, err)
		}
		log.Infow("Using sqlite storage", "path", cfg.Storage.Path)
		return s, s, s, s
	case "memory", "":
		log.Infow("Using in-memory storage")
		m := store.NewMemory()
		return m, m, m, m
	default:
		log.Fatalf("Unknown storage driver %q", cfg.Storage.Driver)
		return nil, nil, nil, nil
	}
}

func buildNotifier(log *zap.SugaredLogger, cfg config.Config) notify.Sink {
	sinks := []notify.Sink{notify.NewLogSink(log)}
	if cfg.Mail.Enabled {
		sinks = append(sinks, notify.NewMailSink(cfg.Mail, log))
	}
	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.Webhook, log))
	}
	if len(sinks) == 1 {
		return sinks[0]
	}
	return notify.NewMultiSink(log, sinks...)
}

// buildAuditRecorder assembles the audit pipeline: the log sink is always on,
// webhook and Kafka sinks are queued so they never block request handling.
func buildAuditRecorder(log *zap.SugaredLogger, cfg config.Config) *audit.Recorder {
	zlog := log.Desugar()
	sinks := []audit.Sink{audit.NewLogSink(zlog)}

	if cfg.Audit.Webhook.Enabled && cfg.Audit.Webhook.URL != "" {
		webhookSink := audit.NewWebhookSink(audit.WebhookSinkConfig{
			URL:     cfg.Audit.Webhook.URL,
			Headers: cfg.Audit.Webhook.Headers,
			Timeout: time.Duration(cfg.Audit.Webhook.TimeoutMs) * time.Millisecond,
		}, zlog)
		sinks = append(sinks, audit.NewQueuedSink(webhookSink, audit.DefaultQueuedSinkConfig(), zlog))
	}

	if cfg.Audit.Kafka.Enabled {
		kafkaSink, err := audit.NewKafkaSink(audit.KafkaSinkConfig{
			Brokers:       cfg.Audit.Kafka.Brokers,
			Topic:         cfg.Audit.Kafka.Topic,
			SASLMechanism: cfg.Audit.Kafka.SASLMechanism,
			Username:      cfg.Audit.Kafka.Username,
			Password:      cfg.Audit.Kafka.Password,
		}, zlog)
		if err != nil {
			log.Warnf("Error creating Kafka audit sink, continuing without: %v", err)
		} else {
			sinks = append(sinks, audit.NewQueuedSink(kafkaSink, audit.DefaultQueuedSinkConfig(), zlog))
		}
	}

	var sink audit.Sink = sinks[0]
	if len(sinks) > 1 {
		sink = audit.NewMultiSink(zlog, sinks...)
	}
	return audit.NewRecorder(sink, zlog)
}

func runSweepLoop(log *zap.SugaredLogger, scheduler *escalation.Scheduler, interval time.Duration, limits escalation.Limits) {
	log.Infow("Starting escalation sweep loop", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		scheduler.Sweep(context.Background(), time.Now().UTC(), "", limits)
	}
}

func setupLogger(debug bool) *zap.SugaredLogger {
	var zlog *zap.Logger
	var err error
	if debug {
		zlog, err = zap.NewDevelopment()
	} else {
		zlog, err = zap.NewProduction()
	}
	if err != nil {
		stdlog.Fatalf("failed to set up logger: %v", err)
	}
	return zlog.Sugar()
}
