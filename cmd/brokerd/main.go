// Command brokerd boots the broker engine behind the TCP (and optional
// WebSocket) transport: load config.yml, open the sqlite-backed store,
// load the password file, wire the director, start listening (spec.md
// §4.12).
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/riftmq/broker/internal/auth"
	"github.com/riftmq/broker/internal/broker"
	"github.com/riftmq/broker/internal/logger"
	"github.com/riftmq/broker/internal/store/sqlite"
	"github.com/riftmq/broker/internal/transport"
)

type config struct {
	Name    string       `yaml:"name"`
	Version string       `yaml:"version"`
	Server  serverConfig `yaml:"server"`
}

type serverConfig struct {
	Host                  string `yaml:"host"`
	Port                  string `yaml:"port"`
	WebsocketPort         string `yaml:"websocket_port"`
	StorePath             string `yaml:"store_path"`
	PasswordFile          string `yaml:"password_file"`
	AllowAnonymous        bool   `yaml:"allow_anonymous"`
	AllowZeroByteClientID bool   `yaml:"allow_zero_byte_client_id"`
	Environment           string `yaml:"environment"`
}

// loggingInterceptor is the logging broker.Interceptor every deployment
// gets by default (spec.md §4.12 step 4), dispatching each event to the
// MQTT-shaped helper that matches its Kind rather than a single generic
// log line.
type loggingInterceptor struct {
	log *logger.Logger
}

func (li *loggingInterceptor) Notify(event broker.InterceptorEvent) {
	switch event.Kind {
	case broker.EventClientConnected:
		// The transport layer already logs the connected event with the
		// remote address it has and the interceptor doesn't; only log
		// the auth outcome here.
		li.log.LogAuth(event.ClientID, "", true, "connect accepted")
	case broker.EventClientDisconnected:
		li.log.LogClientConnection(event.ClientID, "", "disconnected")
	case broker.EventConnectionLost:
		li.log.LogClientConnection(event.ClientID, "", "connection_lost")
	case broker.EventPublish:
		li.log.LogPublish(event.ClientID, event.Topic, int(event.QoS), event.Retained, event.PayloadSize)
		if event.Retained {
			li.log.LogRetainedMessage(event.Topic, "stored", event.PayloadSize)
		}
	case broker.EventSubscribe:
		li.log.LogSubscription(event.ClientID, event.Topic, int(event.QoS), "subscribe")
	case broker.EventUnsubscribe:
		li.log.LogSubscription(event.ClientID, event.Topic, 0, "unsubscribe")
	case broker.EventMessageAcknowledged:
		li.log.LogQoSFlow(event.ClientID, event.PacketID, int(event.QoS), "acknowledged")
	}
}

func main() {
	started := time.Now()
	bootLog := logger.New(logger.DevelopmentConfig())

	// Step 1: load config.yml.
	raw, err := os.ReadFile("config.yml")
	if err != nil {
		bootLog.Fatal("failed to read config.yml", logger.ErrorAttr(err))
	}
	var cfg config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		bootLog.Fatal("failed to parse config.yml", logger.ErrorAttr(err))
	}
	if cfg.Server.StorePath == "" {
		cfg.Server.StorePath = "./store/store.db"
	}

	// Now that the environment is known, initialize the real global
	// logger (production: JSON, no source; development: text, debug +
	// caller) and derive per-component loggers from it via NewMQTTLogger,
	// matching the teacher's component-grouped logging shape.
	logConfig := logger.DevelopmentConfig()
	if cfg.Server.Environment == "production" {
		logConfig = logger.ProductionConfig()
	}
	logConfig.Service = cfg.Name
	logConfig.Version = cfg.Version
	logger.InitGlobalLogger(logConfig)
	lg := logger.GetGlobalLogger()
	transportLog := logger.NewMQTTLogger("transport")
	brokerLog := logger.NewMQTTLogger("broker")

	// Step 2: open the sqlite-backed store.
	messageStore, err := sqlite.Open(cfg.Server.StorePath)
	if err != nil {
		lg.Fatal("failed to open store", logger.ErrorAttr(err))
	}
	defer messageStore.Close()

	// Step 3: load the password file.
	passwordFile, err := auth.NewPasswordFile(cfg.Server.PasswordFile)
	if err != nil {
		lg.Fatal("failed to load password file", logger.ErrorAttr(err))
	}

	// Step 4: wire the director.
	bus := broker.NewInterceptorBus()
	bus.Register(&loggingInterceptor{log: brokerLog})

	director := broker.New(
		broker.NewConnectionRegistry(),
		messageStore,
		messageStore,
		broker.NewTopicMatcher(),
		broker.NewWillStore(),
		passwordFile,
		auth.AllowAllAuthorizer{},
		bus,
		broker.Config{
			AllowAnonymous:        cfg.Server.AllowAnonymous,
			AllowZeroByteClientID: cfg.Server.AllowZeroByteClientID,
		},
	)

	// Step 5: start listening, wait for shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	tcpServer := transport.NewTCPServer(addr, director, transportLog)
	if err := tcpServer.Start(ctx); err != nil {
		lg.Fatal("failed to start tcp server", logger.ErrorAttr(err))
	}
	lg.Info("listening", slog.String("addr", addr))

	var wsServer *transport.WebSocketServer
	if cfg.Server.WebsocketPort != "" && cfg.Server.WebsocketPort != "disabled" {
		wsAddr := cfg.Server.Host + ":" + cfg.Server.WebsocketPort
		wsServer = transport.NewWebSocketServer(wsAddr, "/mqtt", director, transportLog)
		if err := wsServer.Start(ctx); err != nil {
			lg.Fatal("failed to start websocket server", logger.ErrorAttr(err))
		}
		lg.Info("listening (websocket)", slog.String("addr", wsAddr))
	}

	lg.LogPerformance("startup_duration", time.Since(started).Milliseconds(), "ms")

	<-ctx.Done()
	lg.Info("graceful shutdown triggered")
	if err := tcpServer.Stop(); err != nil {
		lg.Error("tcp server stop", logger.ErrorAttr(err))
	}
	if wsServer != nil {
		if err := wsServer.Stop(); err != nil {
			lg.Error("websocket server stop", logger.ErrorAttr(err))
		}
	}
	time.Sleep(1 * time.Second)
	lg.Info("graceful shutdown complete")
}
