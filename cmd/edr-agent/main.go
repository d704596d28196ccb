// Package main is the entry point for the EDR agent daemon: it wires
// the bus, scorer, rule engine, correlator, incident manager, audit
// logger, exporter, actuators, and shared-status writer together and
// runs until a shutdown signal arrives. Grounded on the teacher's
// cmd/siem-ingest/main.go for the overall startup/shutdown shape
// (structured logging setup, config load + validate, component wiring,
// signal-based graceful shutdown).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"edr-agent/internal/actuator"
	"edr-agent/internal/audit"
	"edr-agent/internal/bus"
	"edr-agent/internal/collectors/kafkabridge"
	"edr-agent/internal/config"
	"edr-agent/internal/correlator"
	"edr-agent/internal/errors"
	"edr-agent/internal/exporter"
	"edr-agent/internal/incident"
	"edr-agent/internal/logging"
	"edr-agent/internal/privilege"
	"edr-agent/internal/risk"
	"edr-agent/internal/rules"
	"edr-agent/internal/schema"
	"edr-agent/internal/status"
	"edr-agent/internal/store"
	"edr-agent/internal/watchdog"

	"github.com/redis/go-redis/v9"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "/etc/edr-agent/config.yaml", "path to config.yaml")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("edr-agent %s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Logging)
	slog.SetDefault(log)

	log.Info("configuration loaded",
		"store_path", cfg.Store.Path,
		"rules_dir", cfg.Rules.Dir,
		"status_path", cfg.Status.Path,
		"clickhouse_enabled", cfg.Exporter.ClickHouse.Enabled,
		"s3_enabled", cfg.Exporter.S3.Enabled,
		"kafka_bridge_enabled", cfg.Collector.KafkaBridge.Enabled,
	)

	hmacKey, err := cfg.HMACKey()
	if err != nil {
		log.Error("failed to resolve audit HMAC key", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.Store.Path, log)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	auditLogger, err := audit.NewLogger(st, hmacKey, log)
	if err != nil {
		log.Error("failed to construct audit logger", "error", errors.SafeErrorMessage(err))
		os.Exit(1)
	}
	if err := auditLogger.Started(); err != nil {
		log.Warn("failed to log agent start", "error", err)
	}

	if cfg.Audit.ImmutableGuardEnabled {
		guard, err := audit.NewImmutableGuard(log)
		if err != nil {
			log.Warn("immutable guard unavailable, continuing without it", "error", err)
		} else if err := guard.SetAppendOnly(cfg.Store.Path); err != nil {
			log.Warn("failed to set append-only attribute on store", "error", err)
		} else {
			log.Info("audit database hardened append-only", "path", cfg.Store.Path)
		}
	}

	b := bus.New(log)
	b.InitAsyncPool(4)
	defer b.ShutdownAsyncPool()

	scorer := risk.NewScorer()
	scorer.SetThresholds(risk.Thresholds{
		Low: cfg.Risk.Low, Medium: cfg.Risk.Medium, High: cfg.Risk.High, Critical: cfg.Risk.Critical,
	})
	scorer.SetPublisher(b.PublishAsync)
	for _, kind := range []schema.Kind{
		schema.KindProcessCreate, schema.KindProcessTerminate, schema.KindFileCreate,
		schema.KindFileModify, schema.KindNetworkConnect, schema.KindRegistryWrite,
	} {
		b.Subscribe(kind, scorer.OnEvent)
	}

	var dedup *rules.DedupCache
	if cfg.Rules.DedupEnabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Rules.DedupRedisAddr, DB: cfg.Rules.DedupRedisDB})
		dedup = rules.NewDedupCache(rdb, cfg.Rules.DedupWindow)
		defer dedup.Close()
	}

	engine := rules.NewEngine(b, dedup)
	loadRuleset(engine, cfg.Rules.Dir, log)
	for _, kind := range []schema.Kind{
		schema.KindProcessCreate, schema.KindFileCreate, schema.KindFileModify,
		schema.KindNetworkConnect, schema.KindRegistryWrite,
	} {
		b.Subscribe(kind, engine.OnEvent)
	}

	corr := correlator.New(b, log)
	corr.Subscribe()

	mgr := incident.New(b, scorer, st, log)
	mgr.Subscribe()

	auditLogger.Subscribe(b)

	exp := exporter.New(st, scorer, log)
	exp.Attach(b)
	attachOptionalSinks(exp, cfg.Exporter, log)
	defer exp.Close()

	privVerifier, err := privilege.NewVerifier(log)
	if err != nil {
		log.Warn("privilege verifier unavailable, actuator capability checks skipped", "error", err)
	}

	dispatcher := actuator.NewDispatcher(b, log)
	if cfg.Actuator.FirewallEnabled {
		if privVerifier != nil {
			if err := privVerifier.Verify(privilege.RequireFirewallAdmin); err != nil {
				log.Warn("firewall actuator registered without confirmed CAP_NET_ADMIN/CAP_NET_RAW", "error", err)
			}
		}
		dispatcher.Register(actuator.NewFirewallActuatorWithPaths(cfg.Actuator.NftablesPath, cfg.Actuator.IptablesPath))
	}
	if cfg.Actuator.ProcessControlEnabled {
		if privVerifier != nil {
			if err := privVerifier.Verify(privilege.RequireProcessAdmin); err != nil {
				log.Warn("process actuator registered without confirmed CAP_KILL/CAP_SYS_PTRACE", "error", err)
			}
		}
		dispatcher.Register(actuator.NewProcessActuator(3 * time.Second))
	}
	policy := newContainmentPolicy(mgr, dispatcher, log)
	b.Subscribe(schema.KindIncidentStateChange, policy.onIncidentStateChange)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var bridge *kafkabridge.Bridge
	if cfg.Collector.KafkaBridge.Enabled {
		bridge, err = kafkabridge.New(kafkabridge.Config{
			Brokers:       cfg.Collector.KafkaBridge.Brokers,
			Topic:         cfg.Collector.KafkaBridge.Topic,
			ConsumerGroup: cfg.Collector.KafkaBridge.ConsumerGroup,
		}, b, log)
		if err != nil {
			log.Error("failed to construct kafka bridge", "error", err)
			os.Exit(1)
		}
		bridge.Start()
		log.Info("kafka collector bridge started", "topic", cfg.Collector.KafkaBridge.Topic)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Status.Path), 0755); err != nil {
		log.Warn("failed to create status directory", "error", err)
	}
	statusWriter, err := status.NewWriter(cfg.Status.Path)
	if err != nil {
		log.Error("failed to open shared-status file", "error", err)
		os.Exit(1)
	}
	defer statusWriter.Close()

	startedAt := time.Now()
	go statusWriter.Run(ctx, func() status.Record {
		return snapshotStatus(cfg, startedAt, mgr, st, log)
	})

	wd, err := watchdog.New(nil, log)
	if err != nil {
		log.Warn("watchdog unavailable, continuing without systemd liveness notification", "error", err)
	} else {
		wd.AddHealthChecker(watchdog.FileChecker(cfg.Store.Path))
		wd.AddHealthChecker(watchdog.MemoryChecker(0.95))
		if err := wd.Start(); err != nil {
			log.Warn("failed to start watchdog", "error", err)
		}
		defer wd.Stop()
	}

	log.Info("edr-agent started", "version", cfg.Status.EngineVersion)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("shutdown signal received", "signal", sig.String())

	cancel()
	if bridge != nil {
		if err := bridge.Stop(); err != nil {
			log.Error("kafka bridge stop error", "error", err)
		}
	}
	if err := auditLogger.Stopped(); err != nil {
		log.Warn("failed to log agent stop", "error", err)
	}

	log.Info("shutdown complete",
		"active_incidents", mgr.ActiveCount(),
		"total_incidents", mgr.TotalCount(),
	)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: maskSensitiveAttr}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// maskSensitiveAttr is a slog.HandlerOptions.ReplaceAttr hook masking
// any attribute whose key names a secret-shaped field, per the
// teacher's field-masking table.
func maskSensitiveAttr(groups []string, a slog.Attr) slog.Attr {
	if masked := logging.SafeLogValue(a.Key, a.Value.Any()); masked != a.Value.Any() {
		a.Value = slog.AnyValue(masked)
	}
	return a
}

// loadRuleset walks dir for *.yaml/*.yml files, parses each with
// rules.ParseRules, and loads the aggregate ruleset into engine.
// Per-file and per-rule failures are logged but never abort startup,
// matching the teacher's cmd/siem-rules validate/list tolerance for a
// mixed-quality rules directory. Grounded on
// cmd/siem-rules/main.go's collectYAMLFiles.
func loadRuleset(engine *rules.Engine, dir string, log *slog.Logger) {
	files, err := collectYAMLFiles(dir)
	if err != nil {
		log.Warn("failed to read rules directory, starting with an empty ruleset", "dir", dir, "error", err)
		return
	}

	var all []rules.Rule
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			log.Warn("failed to read rule file", "file", f, "error", err)
			continue
		}
		result, err := rules.ParseRules(data)
		if err != nil {
			log.Warn("failed to parse rule file", "file", f, "error", err)
			continue
		}
		for _, skipped := range result.Skipped {
			log.Warn("skipped invalid rule", "file", f, "index", skipped.Index, "name", skipped.Name, "reason", skipped.Reason)
		}
		all = append(all, result.Rules...)
	}

	engine.LoadRules(all)
	log.Info("ruleset loaded", "dir", dir, "rule_count", len(all), "file_count", len(files))
}

func collectYAMLFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func attachOptionalSinks(exp *exporter.Exporter, cfg config.ExporterConfig, log *slog.Logger) {
	batchCfg := exporter.BatchConfig{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
	}

	if cfg.ClickHouse.Enabled {
		sink, err := exporter.NewClickHouseSink(exporter.ClickHouseConfig{
			Hosts:        cfg.ClickHouse.Hosts,
			Database:     cfg.ClickHouse.Database,
			Username:     cfg.ClickHouse.Username,
			Password:     os.Getenv(cfg.ClickHouse.PasswordEnv),
			TLSEnabled:   cfg.ClickHouse.TLSEnabled,
			DialTimeout:  10 * time.Second,
			MaxOpenConns: 10,
		})
		if err != nil {
			log.Error("failed to connect clickhouse sink, continuing without it", "error", err)
		} else {
			exp.AddSink(exporter.NewBatchExporter(sink, batchCfg))
			log.Info("clickhouse export sink attached", "hosts", cfg.ClickHouse.Hosts)
		}
	}

	if cfg.S3.Enabled {
		accessKey := os.Getenv(cfg.S3.AccessKeyEnv)
		secretKey := os.Getenv(cfg.S3.SecretKeyEnv)
		sink, err := exporter.NewS3Sink(context.Background(), exporter.S3Config{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     accessKey,
			SecretAccessKey: secretKey,
			StorageClass:    cfg.S3.StorageClass,
			UsePathStyle:    cfg.S3.UsePathStyle,
		}, log)
		if err != nil {
			log.Error("failed to construct s3 sink, continuing without it", "error", err)
		} else {
			exp.AddSink(exporter.NewBatchExporter(sink, batchCfg))
			log.Info("s3 export sink attached", "bucket", cfg.S3.Bucket)
		}
	}
}

// containmentPolicy drives the dispatcher automatically when an
// incident reaches ESCALATED: the actuator contract is "not owned by
// the core" per spec.md §6, but a long-running daemon with no IPC
// transport needs something to invoke it, so this cmd-layer policy
// fills that role rather than leaving every actuator permanently idle.
type containmentPolicy struct {
	mgr        *incident.Manager
	dispatcher *actuator.Dispatcher
	log        *slog.Logger
	attempted  atomic.Int64
}

func newContainmentPolicy(mgr *incident.Manager, dispatcher *actuator.Dispatcher, log *slog.Logger) *containmentPolicy {
	return &containmentPolicy{mgr: mgr, dispatcher: dispatcher, log: log}
}

func (p *containmentPolicy) onIncidentStateChange(event schema.Event) {
	if event.Meta("to_state") != string(incident.StateEscalated) {
		return
	}

	uuid := event.Meta("incident_uuid")
	inc, ok := p.mgr.Get(uuid)
	if !ok {
		return
	}

	remoteAddr := latestRemoteAddress(inc)
	if remoteAddr == "" {
		p.log.Debug("escalated incident has no network activity to contain", "incident_uuid", uuid)
		return
	}

	p.attempted.Add(1)
	err := p.dispatcher.Dispatch(context.Background(), inc.PID, inc.ProcessName,
		actuator.ActionNetworkBlock, "incident escalated", map[string]string{"remote_address": remoteAddr})
	if err != nil {
		p.log.Warn("no actuator available for automatic containment", "incident_uuid", uuid, "error", err)
	}
}

// latestRemoteAddress returns the remote_address metadata of the most
// recent NetworkConnect event associated with inc, or "" if none.
func latestRemoteAddress(inc incident.Incident) string {
	for i := len(inc.AssociatedEvents) - 1; i >= 0; i-- {
		e := inc.AssociatedEvents[i]
		if addr := e.Meta("remote_address"); addr != "" {
			return addr
		}
	}
	return ""
}

func snapshotStatus(cfg *config.Config, startedAt time.Time, mgr *incident.Manager, st *store.Store, log *slog.Logger) status.Record {
	rec := status.Record{
		ProtectionActive:          true,
		ActiveIncidentCount:       uint32(mgr.ActiveCount()),
		TotalIncidentCount:        uint32(mgr.TotalCount()),
		ProcessMonitorActive:      true,
		FileMonitorActive:         true,
		NetworkMonitorActive:      true,
		RegistryMonitorActive:     true,
		EngineVersion:             cfg.Status.EngineVersion,
	}

	snap, err := st.StatusSnapshot()
	if err != nil {
		log.Debug("failed to read store status snapshot", "error", err)
	} else {
		rec.TotalEventCount = uint32(snap.TotalEventCount)
		rec.HighestRiskScore = uint32(snap.HighestRiskScore)
	}

	return rec
}
