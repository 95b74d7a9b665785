package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"example.com/activitysync/internal/api"
	"example.com/activitysync/internal/auth"
	"example.com/activitysync/internal/config"
	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/engine"
	"example.com/activitysync/internal/feedback"
	"example.com/activitysync/internal/persistence/memory"
	"example.com/activitysync/internal/protocol"
	"example.com/activitysync/internal/session"
	"example.com/activitysync/internal/transport"
	"example.com/activitysync/internal/transport/httplink"
	httptransport "example.com/activitysync/internal/transport/http"
)

var (
	serveAddr     string
	serveLoopback bool
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the peer and its HTTP API",
		Long: `Run one peer of the pair.

Configuration comes from environment variables and the optional YAML file
named by SYNC_CONFIG_FILE. With --loopback the counterpart runs in the same
process over an in-memory link.

Examples:
  syncpeer serve
  PEER_ROLE=wrist PEER_ID=wrist-1 COUNTERPART_ID=handheld-1 syncpeer serve --addr :8081
  syncpeer serve --loopback`,
		RunE: runServe,
	}
	cmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides HTTP_ADDRESS)")
	cmd.Flags().BoolVar(&serveLoopback, "loopback", false, "run the counterpart in-process over an in-memory link")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.HTTPAddress = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, pool, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var (
		ch      transport.Channel
		inbound httplink.Receiver
	)
	if serveLoopback {
		local, remote, _ := transport.NewPair()
		ch = local
		go runLoopbackCounterpart(ctx, cfg, remote)
	} else {
		composite, err := buildChannel(cfg, pool)
		if err != nil {
			return err
		}
		defer composite.Close()
		composite.Start(ctx)
		ch = composite
		inbound = composite
	}

	peer := newPeer(cfg, cfg.PeerID, session.Role(cfg.PeerRole), ch, store)
	peerDone := make(chan error, 1)
	go func() { peerDone <- peer.Run(ctx) }()

	handler := api.NewHandler(peer, inbound, cfg.HistoryLimit)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress),
		authMiddleware.Wrap(httptransport.RequestLogger(newLogger("http"), mux)))

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("syncpeer %s (%s) listening on %s", cfg.PeerID, cfg.PeerRole, cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			stop()
			return fmt.Errorf("server error: %w", err)
		}
	}
	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	if err := <-peerDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newPeer(cfg config.Config, id string, role session.Role, ch transport.Channel, store domain.Store) *session.Peer {
	logger := newLogger("session " + id)
	return session.New(session.Config{PeerID: id, Role: role, TickInterval: cfg.TickInterval}, ch, store,
		session.WithLogger(logger),
		session.WithPlayer(feedback.LogPlayer{Logger: logger}),
		session.WithListener(logListener{logger: logger}),
		session.WithEngineOptions(engine.WithMaxTickStep(cfg.MaxTickStep)),
		session.WithSenderOptions(protocol.WithRetryDelay(cfg.RetryDelay)),
	)
}

// runLoopbackCounterpart runs the other role against an in-memory store.
func runLoopbackCounterpart(ctx context.Context, cfg config.Config, ch transport.Channel) {
	role := session.RoleWrist
	if session.Role(cfg.PeerRole) == session.RoleWrist {
		role = session.RoleHandheld
	}
	peer := newPeer(cfg, cfg.CounterpartID, role, ch, memory.New())
	if err := peer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("loopback counterpart stopped: %v", err)
	}
}

// logListener logs navigation requests; a headless peer has no screen.
type logListener struct {
	logger *log.Logger
}

func (l logListener) OnView(session.View) {}

func (l logListener) OnNavigation(n session.Navigation) {
	l.logger.Printf("navigation requested: %s", n)
}
