package main

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/luciancaetano/wschan"
	"github.com/luciancaetano/wschan/ws"
)

// Events exchanged with chat clients.
const (
	EventChat       = "chat"
	EventUsers      = "users"
	EventSetName    = "setName"
	EventUserJoined = "userJoined"
	EventUserLeft   = "userLeft"
)

const (
	maxNameLength = 32
	maxMessageLen = 4096
)

type ChatMessage struct {
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type UserInfo struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joinedAt"`
}

type ChatServer struct {
	server  wschan.Server
	users   map[string]*UserInfo
	usersMu sync.RWMutex
}

func NewChatServer(cfg Config) (*ChatServer, error) {
	cs := &ChatServer{
		users: make(map[string]*UserInfo),
	}

	scfg := ws.NewConfig(cfg.Addr, cfg.RateLimit, cfg.checkOrigin(), cs.onConnect, cs.onDisconnect)
	scfg.Path = cfg.Path
	scfg.MetricsPath = cfg.MetricsPath
	scfg.PingInterval = cfg.PingInterval
	cs.server = ws.NewServer(scfg)

	if err := cs.server.OnSay(EventChat, cs.handleChat); err != nil {
		return nil, err
	}
	if err := cs.server.OnAsk(EventUsers, cs.handleUsers); err != nil {
		return nil, err
	}
	if err := cs.server.OnAsk(EventSetName, cs.handleSetName); err != nil {
		return nil, err
	}
	return cs, nil
}

func (cs *ChatServer) Start(ctx context.Context) error {
	return cs.server.Start(ctx)
}

func (cs *ChatServer) Stop(ctx context.Context) error {
	return cs.server.Stop(ctx)
}

func (cs *ChatServer) Addr() string {
	return cs.server.Addr()
}

func (cs *ChatServer) onConnect(ch wschan.Channel) {
	log.Info().Str("channel_id", ch.ID()).Str("remote_addr", ch.RemoteAddr()).Msg("client connected")

	cs.usersMu.Lock()
	cs.users[ch.ID()] = &UserInfo{
		ID:       ch.ID(),
		Username: "Guest_" + ch.ID()[:8],
		JoinedAt: time.Now(),
	}
	cs.usersMu.Unlock()
}

func (cs *ChatServer) onDisconnect(ch wschan.Channel, voluntary bool) {
	log.Info().Str("channel_id", ch.ID()).Bool("voluntary", voluntary).Msg("client disconnected")

	cs.usersMu.Lock()
	user := cs.users[ch.ID()]
	delete(cs.users, ch.ID())
	cs.usersMu.Unlock()

	if user != nil {
		cs.broadcast(EventUserLeft, user)
	}
}

func (cs *ChatServer) broadcast(name string, data any) {
	if err := cs.server.Broadcast(context.Background(), name, data); err != nil {
		log.Warn().Err(err).Str("event", name).Msg("broadcast incomplete")
	}
}

func (cs *ChatServer) user(id string) (UserInfo, bool) {
	cs.usersMu.RLock()
	defer cs.usersMu.RUnlock()

	u, ok := cs.users[id]
	if !ok {
		return UserInfo{}, false
	}
	return *u, true
}

func (cs *ChatServer) handleChat(ctx context.Context, req *wschan.Request) error {
	var msg ChatMessage
	if err := req.Decode(&msg); err != nil {
		return wschan.NewError("INVALID_MESSAGE", "malformed chat message", nil)
	}

	msg.Message = strings.TrimSpace(msg.Message)
	if msg.Message == "" || utf8.RuneCountInString(msg.Message) > maxMessageLen {
		return wschan.NewError("INVALID_MESSAGE", "message must not be empty or too long", nil)
	}

	user, ok := cs.user(req.Channel.ID())
	if !ok {
		return wschan.Code("UNKNOWN_USER")
	}
	msg.Username = user.Username
	msg.Timestamp = time.Now()

	log.Debug().Str("username", msg.Username).Msg("chat message")
	cs.broadcast(EventChat, msg)
	return nil
}

func (cs *ChatServer) handleUsers(ctx context.Context, req *wschan.Request) (any, error) {
	cs.usersMu.RLock()
	defer cs.usersMu.RUnlock()

	users := make([]UserInfo, 0, len(cs.users))
	for _, user := range cs.users {
		users = append(users, *user)
	}
	return users, nil
}

func (cs *ChatServer) handleSetName(ctx context.Context, req *wschan.Request) (any, error) {
	var in struct {
		Username string `json:"username"`
	}
	if err := req.Decode(&in); err != nil {
		return nil, wschan.NewError("INVALID_NAME", "malformed request", nil)
	}

	name := strings.TrimSpace(in.Username)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return nil, wschan.NewError("INVALID_NAME", "username must be 1 to 32 characters", map[string]int{"max": maxNameLength})
	}

	cs.usersMu.Lock()
	user, ok := cs.users[req.Channel.ID()]
	if !ok {
		cs.usersMu.Unlock()
		return nil, wschan.Code("UNKNOWN_USER")
	}
	user.Username = name
	info := *user
	cs.usersMu.Unlock()

	log.Info().Str("channel_id", info.ID).Str("username", name).Msg("username set")
	cs.broadcast(EventUserJoined, info)
	return info, nil
}
