// Package router dispatches chat commands to a bounded worker pool.
package router

import (
	"context"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "aocbot/internal/runtime/supervisor"
	kit "aocbot/internal/transport"
	logx "aocbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Usage       string
	Description string
	Access      Access
	PrivateOnly bool // only in a direct chat with the bot
	GroupOnly   bool // only inside a group chat
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Request struct {
	Msg     *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string
	Log     logx.Logger

	ch kit.Channel
}

// Reply answers in the chat (and thread) the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.ch.Send(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

type Config struct {
	Owners    []int64
	Workers   int
	QueueSize int
}

type Router struct {
	ch  kit.Channel
	log logx.Logger

	mu       sync.RWMutex
	commands map[string]Command
	owners   []int64

	workers int
	jobs    chan func(context.Context)
}

func New(ch kit.Channel, cfg Config, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Router{
		ch:       ch,
		log:      log,
		commands: map[string]Command{},
		owners:   append([]int64(nil), cfg.Owners...),
		workers:  cfg.Workers,
		jobs:     make(chan func(context.Context), cfg.QueueSize),
	}
}

// Register adds or replaces commands. The help command is always present.
func (r *Router) Register(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		r.commands[name] = c
	}
	r.commands["help"] = Command{
		Name:        "help",
		Usage:       "/help",
		Description: "list commands",
		Handle:      r.help,
	}
}

// SetOwners replaces the owner list; safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.owners {
		if o == id {
			return true
		}
	}
	return false
}

func (r *Router) lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.commands[name]
	return c, ok
}

// Dispatch consumes updates until ctx is done or updates is closed.
func (r *Router) Dispatch(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log.With(logx.String("comp", "telegram.router"))))
	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					r.runJob(c, idx, job)
				}
			}
		}, 200*time.Millisecond, 5*time.Second)
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers), logx.Int("queue_cap", cap(r.jobs)))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.enqueue(ctx, up)
		}
	}
}

func (r *Router) runJob(ctx context.Context, worker int, job func(context.Context)) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()
	job(ctx)
}

func (r *Router) enqueue(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil || !strings.HasPrefix(strings.TrimSpace(up.Message.Text), "/") {
		return
	}
	select {
	case r.jobs <- func(c context.Context) { r.serve(c, up) }:
	default:
		chat := kit.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID}
		_, _ = r.ch.Send(ctx, chat, "busy, try again in a moment", nil)
	}
}

// serve parses and runs one command synchronously.
func (r *Router) serve(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	parts := tokenizeCommandLine(msg.Text)
	if len(parts) == 0 {
		return
	}
	word, ok := commandWord(parts[0])
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	reply := func(text string) { _, _ = r.ch.Send(ctx, chat, text, nil) }

	cmd, ok := r.lookup(word)
	if !ok {
		if msg.IsPrivate {
			reply("unknown command, try /help")
		}
		return
	}
	switch {
	case cmd.Access == AccessOwnerOnly && !r.isOwner(msg.FromID):
		reply("unauthorized")
		return
	case cmd.PrivateOnly && !msg.IsPrivate:
		reply("send /" + cmd.Name + " to me in a private chat")
		return
	case cmd.GroupOnly && msg.IsPrivate:
		reply("/" + cmd.Name + " must be sent inside the group chat")
		return
	}

	rid := newReqID()
	req := &Request{
		Msg:     msg,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    parts[1:],
		ReqID:   rid,
		Log: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
		ch: r.ch,
	}
	h := Chain(cmd.Handle, withRecover(), withRequestLog(), withTimeout(cmd.Timeout))
	if err := h(ctx, req); err != nil {
		reply("command failed, check the logs (" + rid + ")")
	}
}

func (r *Router) help(ctx context.Context, req *Request) error {
	owner := r.isOwner(req.FromID)
	r.mu.RLock()
	cmds := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		if c.Access == AccessOwnerOnly && !owner {
			continue
		}
		cmds = append(cmds, c)
	}
	r.mu.RUnlock()
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range cmds {
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		b.WriteString(usage)
		if c.Description != "" {
			b.WriteString(" - " + c.Description)
		}
		b.WriteByte('\n')
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}
