package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"taskboard/global"
	"taskboard/logger"
	"taskboard/service/auth"
	"taskboard/service/relay"
	"taskboard/service/session"
	"taskboard/service/storage"
	"taskboard/tools"
	"taskboard/tools/ids"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	cfg, err := global.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connection IDs embed the node number; keep it distinct per relay node.
	ids.SetNodeID(int64(tools.GetEnvInt("SNOWFLAKE_NODE", 1)))

	gate := auth.NewGate(auth.Options{
		Secret: []byte(cfg.JWTSecret),
		Alg:    "HS256",
		TTL:    cfg.TokenTTL,
	})

	reg := session.NewRegistry()
	rl := relay.NewRelay(reg)

	var presence *storage.Presence
	if cfg.RedisAddr != "" {
		presence, err = storage.NewPresence(storage.PresenceConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.PresenceTTL,
		})
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer presence.Close()
	}

	var boards *storage.BoardStore
	if cfg.MongoURI != "" {
		mctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		boards, err = storage.NewBoardStore(mctx, cfg.MongoURI, cfg.MongoDB)
		cancel()
		if err != nil {
			log.Fatalf("mongo: %v", err)
		}
	}

	if cfg.NatsServers != "" {
		bridge, berr := relay.NewBridge(relay.BridgeConfig{
			Servers: strings.Split(cfg.NatsServers, ","),
			Name:    cfg.NatsName,
			NodeID:  cfg.NodeID,
		})
		if berr != nil {
			log.Fatalf("nats: %v", berr)
		}
		defer bridge.Close()
		rl.AttachBridge(bridge)
		logger.Infof("[main] nats bridge enabled servers=%s", cfg.NatsServers)
	}

	srv := relay.NewServer(cfg, gate, rl, presence, boards)

	// Health check service on a side port.
	go func() {
		lis, lerr := net.Listen("tcp", cfg.HealthAddr)
		if lerr != nil {
			log.Fatalf("gRPC listen failed: %v", lerr)
		}
		gs := grpc.NewServer()
		healthServer := health.NewServer()
		healthpb.RegisterHealthServer(gs, healthServer)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		healthServer.SetServingStatus("taskboard.Relay", healthpb.HealthCheckResponse_SERVING)
		logger.Infof("[gRPC] listening on %s", cfg.HealthAddr)
		if serr := gs.Serve(lis); serr != nil {
			log.Fatalf("gRPC server failed: %v", serr)
		}
	}()

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/board", srv.HandleWS)
	r.GET("/boards/:id/snapshot", srv.HandleSnapshot)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"node": cfg.NodeID, "conns": reg.ConnCount()})
	})

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		logger.Infof("[HTTP] listening on %s", cfg.HTTPAddr)
		if herr := httpSrv.ListenAndServe(); herr != nil && herr != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", herr)
		}
	}()

	<-ctx.Done()
	logger.Infof("[main] shutting down")

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shCtx)
	reg.Close()
	if boards != nil {
		_ = boards.Close(shCtx)
	}
}
