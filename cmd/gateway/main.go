package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veil/chat-app/internal/files"
	"github.com/veil/chat-app/internal/history"
	"github.com/veil/chat-app/internal/ignore"
	"github.com/veil/chat-app/internal/matching"
	"github.com/veil/chat-app/internal/messaging"
	"github.com/veil/chat-app/internal/metrics"
	"github.com/veil/chat-app/internal/presence"
	"github.com/veil/chat-app/internal/protocol"
	"github.com/veil/chat-app/internal/queue"
	"github.com/veil/chat-app/internal/ratelimit"
	"github.com/veil/chat-app/internal/report"
	"github.com/veil/chat-app/internal/room"
	"github.com/veil/chat-app/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	natsConfig.Name = "veil-gateway"
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	serverName, _ := os.Hostname()
	if v := os.Getenv("SERVER_NAME"); v != "" {
		serverName = v
	}
	if serverName == "" {
		serverName = "gateway-1"
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	pingCancel()

	liveness := presence.NewLiveness(rdb, serverName, 0)
	status := presence.NewStatus(rdb, 0)
	ignores := ignore.NewStore(rdb, 0)
	rooms := room.NewStore(rdb)
	queues := queue.NewStore(rdb)
	limiter := ratelimit.NewLimiter(rdb)

	// --- Postgres (optional) ---
	var historyStore *history.Store
	var reportStore *report.Store
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		pgCtx, pgCancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err := history.Open(pgCtx, dsn)
		pgCancel()
		if err != nil {
			log.Fatalf("failed to connect to Postgres: %v", err)
		}
		defer db.Close()

		if err := history.Migrate(db); err != nil {
			log.Fatalf("failed to migrate history schema: %v", err)
		}
		historyStore = history.NewStore(db)
		reportStore = report.NewStore(db)
	} else {
		log.Println("POSTGRES_DSN not set, history and report APIs disabled")
	}

	// --- Uploads ---
	uploadDir := "uploads"
	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		uploadDir = v
	}
	fileStore, err := files.NewStore(uploadDir)
	if err != nil {
		log.Fatalf("failed to init upload store: %v", err)
	}

	log.Printf("Veil gateway starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  server_name:     %s", serverName)
	log.Printf("  upload_dir:      %s", uploadDir)

	// Declare server early so closures can capture it.
	var server *ws.Server

	// The gateway runs the same engine as the matcher for the termination
	// paths (end, ignore, disconnect, acks); join requests go to the matcher
	// over NATS so the scan runs in one place.
	engine := matching.NewEngine(
		queues, status, ignores, rooms, liveness,
		messaging.NewRoomNotifier(natsClient), nil,
	)

	// subscribeToChat wires a connection into a room's relay subject. Both the
	// sender's echo and the partner's copy arrive through here.
	subscribeToChat := func(connID, roomID string) {
		if err := natsClient.SubscribeToChat(roomID, connID, func(data []byte) {
			var event messaging.ChatEvent
			if err := json.Unmarshal(data, &event); err != nil {
				log.Printf("[chat-sub] unmarshal error for conn=%s: %v", connID, err)
				return
			}

			from := "partner"
			if event.From == connID {
				from = "you"
			}
			resp, _ := protocol.NewServerMessage(protocol.TypeMessage, protocol.ServerChatMsg{
				From:    from,
				Text:    event.Text,
				ImageID: event.ImageID,
				Ts:      event.Ts,
			})
			if err := server.SendMessage(connID, resp); err != nil {
				log.Printf("[chat-sub] send to conn=%s failed: %v", connID, err)
			}
		}); err != nil {
			log.Printf("[chat-sub] subscribe room=%s for conn=%s failed: %v", roomID, connID, err)
		}
	}

	dispatcher := ws.NewMessageDispatcher(nil)

	// -----------------------------------------------------------------------
	// join — request a chat partner
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoin, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinMsg)
		if !ok {
			return
		}
		ctx := context.Background()

		allowed, _ := limiter.Allow(ctx, conn.AnonID, ratelimit.RuleJoin)
		if !allowed {
			resp, _ := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: int(ratelimit.RuleJoin.Window.Seconds()),
			})
			conn.WriteMessage(resp)
			return
		}

		data, err := messaging.EncodeMatchJoin(messaging.MatchJoin{
			ConnID: conn.ID,
			AnonID: conn.AnonID,
			Join:   joinMsg,
		})
		if err != nil {
			log.Printf("join encode failed conn=%s: %v", conn.ID, err)
			return
		}
		if err := natsClient.PublishMatchJoin(data); err != nil {
			log.Printf("join publish failed conn=%s: %v", conn.ID, err)
			resp, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
				Code: "join_failed", Message: "could not start search",
			})
			conn.WriteMessage(resp)
			return
		}

		log.Printf("join from conn=%s anon=%s tag=%q", conn.ID, conn.AnonID, joinMsg.Tag)
	})

	// -----------------------------------------------------------------------
	// message — relay a chat message within a room
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeMessage, func(conn *ws.Connection, msg interface{}) {
		chatMsg, ok := msg.(protocol.ChatMsg)
		if !ok {
			return
		}
		ctx := context.Background()

		allowed, _ := limiter.Allow(ctx, conn.ID, ratelimit.RuleMessage)
		if !allowed {
			metrics.MessagesRejected.WithLabelValues("rate_limited").Inc()
			resp, _ := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: int(ratelimit.RuleMessage.Window.Seconds()),
			})
			conn.WriteMessage(resp)
			return
		}

		if err := protocol.ValidateChatMsg(chatMsg); err != nil {
			metrics.MessagesRejected.WithLabelValues("invalid").Inc()
			resp, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
				Code: "invalid_message", Message: err.Error(),
			})
			conn.WriteMessage(resp)
			return
		}

		sess, err := rooms.Get(ctx, chatMsg.RoomID)
		if err != nil || sess == nil || !sess.IsParticipant(conn.ID) {
			metrics.MessagesRejected.WithLabelValues("no_room").Inc()
			resp, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
				Code: "invalid_room", Message: "not in an active chat",
			})
			conn.WriteMessage(resp)
			return
		}

		event := messaging.ChatEvent{
			From:     conn.ID,
			FromAnon: conn.AnonID,
			Text:     chatMsg.Text,
			ImageID:  chatMsg.ImageID,
			Ts:       time.Now().UnixMilli(),
		}
		data, _ := json.Marshal(event)
		if err := natsClient.PublishChatMessage(chatMsg.RoomID, data); err != nil {
			log.Printf("message publish failed conn=%s room=%s: %v", conn.ID, chatMsg.RoomID, err)
			return
		}

		kind := "text"
		if chatMsg.ImageID != "" {
			kind = "image"
		}
		metrics.MessagesRelayed.WithLabelValues(kind).Inc()

		// Persist outside the relay path; transcript gaps are preferable to
		// blocking delivery on Postgres.
		if historyStore != nil {
			go func() {
				hCtx, hCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer hCancel()
				if err := historyStore.AddMessage(hCtx, chatMsg.RoomID, conn.AnonID, chatMsg.Text, chatMsg.ImageID); err != nil {
					log.Printf("history persist failed room=%s: %v", chatMsg.RoomID, err)
				}
			}()
		}
	})

	// -----------------------------------------------------------------------
	// end_chat — end an active chat
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeEndChat, func(conn *ws.Connection, msg interface{}) {
		endMsg, ok := msg.(protocol.EndChatMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := engine.EndChat(ctx, conn.ID, endMsg.RoomID); err != nil {
			log.Printf("end_chat failed conn=%s room=%s: %v", conn.ID, endMsg.RoomID, err)
		}
	})

	// -----------------------------------------------------------------------
	// ignore_user — end the chat and block the pairing
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeIgnoreUser, func(conn *ws.Connection, msg interface{}) {
		ignMsg, ok := msg.(protocol.IgnoreUserMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := engine.IgnoreUser(ctx, conn.ID, ignMsg.RoomID); err != nil {
			log.Printf("ignore_user failed conn=%s room=%s: %v", conn.ID, ignMsg.RoomID, err)
		}
	})

	// -----------------------------------------------------------------------
	// join_room_ack — client confirms it entered the room
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinRoomAck, func(conn *ws.Connection, msg interface{}) {
		ackMsg, ok := msg.(protocol.JoinRoomAckMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		n, err := engine.RecordJoinAck(ctx, conn.ID, ackMsg.RoomID)
		if err != nil {
			log.Printf("join_room_ack failed conn=%s room=%s: %v", conn.ID, ackMsg.RoomID, err)
			return
		}
		log.Printf("join_room_ack conn=%s room=%s acks=%d", conn.ID, ackMsg.RoomID, n)
	})

	server = ws.NewServer(config, liveness, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	// Per-IP connection throttle.
	server.SetConnectGate(func(remoteIP string) bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		allowed, _ := limiter.Allow(ctx, remoteIP, ratelimit.RuleConnect)
		return allowed
	})

	// Every connection listens on its directed room.event subject. Session
	// events are relayed to the client verbatim; join_room/chat_ended also
	// toggle the chat-relay subscription.
	server.SetOnConnect(func(conn *ws.Connection) {
		connID := conn.ID
		if err := natsClient.SubscribeRoomEvents(connID, func(data []byte) {
			var env protocol.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				log.Printf("[room-event] bad event for conn=%s: %v", connID, err)
				return
			}

			switch env.Type {
			case protocol.TypeJoinRoom:
				var m protocol.JoinRoomMsg
				if err := json.Unmarshal(env.Raw, &m); err == nil && m.RoomID != "" {
					subscribeToChat(connID, m.RoomID)
				}
			case protocol.TypeChatEnded:
				_ = natsClient.UnsubscribeFromChat(connID)
			}

			if err := server.SendMessage(connID, data); err != nil {
				log.Printf("[room-event] send to conn=%s failed: %v", connID, err)
			}
		}); err != nil {
			log.Printf("[room-event] subscribe failed conn=%s: %v", connID, err)
		}
	})

	// Disconnect cleanup: tear down any active session, notify the partner,
	// drop queue presence implicitly via liveness, and clear status.
	server.SetOnDisconnect(func(conn *ws.Connection) {
		connID := conn.ID
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = natsClient.UnsubscribeRoomEvents(connID)
		_ = natsClient.UnsubscribeFromChat(connID)

		if err := engine.Disconnect(ctx, connID); err != nil {
			log.Printf("disconnect cleanup failed conn=%s: %v", connID, err)
		}
		if err := status.Clear(ctx, connID); err != nil {
			log.Printf("status clear failed conn=%s: %v", connID, err)
		}
	})

	// HTTP API alongside the WebSocket endpoint.
	api := &apiServer{
		history: historyStore,
		reports: reportStore,
		files:   fileStore,
		limiter: limiter,
	}
	api.mount(server)
	server.Handle("/metrics", metrics.Handler())

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		natsClient.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := rdb.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
