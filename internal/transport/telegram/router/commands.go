package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"aocbot/internal/identity"
	"aocbot/internal/leaderboard"
	"aocbot/internal/reconcile"
)

type Syncer interface {
	Run(ctx context.Context, req reconcile.Request) reconcile.Result
}

type Directory interface {
	Link(ctx context.Context, name string, recipient int64) error
	NameOf(ctx context.Context, recipient int64) (string, bool, error)
	RegisterChannel(ctx context.Context, year, day int, chat int64) error
	KnownDays(ctx context.Context, year int) ([]int, error)
}

// Commands returns the bot's command set.
func Commands(sync Syncer, dir Directory, syncTimeout time.Duration) []Command {
	return []Command{
		{
			Name:        "sync",
			Usage:       "/sync [year] [day]",
			Description: "reconcile invites and boards now",
			Access:      AccessOwnerOnly,
			Timeout:     syncTimeout,
			Handle:      syncHandler(sync),
		},
		{
			Name:        "link",
			Usage:       "/link <leaderboard name>",
			Description: "link your Advent of Code name to this account",
			PrivateOnly: true,
			Handle:      linkHandler(dir),
		},
		{
			Name:        "whoami",
			Usage:       "/whoami",
			Description: "show your linked leaderboard name",
			Handle:      whoamiHandler(dir),
		},
		{
			Name:        "register",
			Usage:       "/register <year> <day>",
			Description: "use this group as the chat for a puzzle day",
			Access:      AccessOwnerOnly,
			GroupOnly:   true,
			Handle:      registerHandler(dir),
		},
		{
			Name:        "chats",
			Usage:       "/chats <year>",
			Description: "list the puzzle days that have a chat",
			Access:      AccessOwnerOnly,
			Handle:      chatsHandler(dir),
		},
	}
}

func parseYearDay(args []string) (year, day int, err error) {
	if len(args) > 2 {
		return 0, 0, errors.New("too many arguments")
	}
	if len(args) >= 1 {
		if year, err = strconv.Atoi(args[0]); err != nil || year < 2015 {
			return 0, 0, fmt.Errorf("bad year %q", args[0])
		}
	}
	if len(args) == 2 {
		if day, err = strconv.Atoi(args[1]); err != nil || day < 1 || day > leaderboard.FinalDay(year) {
			return 0, 0, fmt.Errorf("bad day %q", args[1])
		}
	}
	return year, day, nil
}

func syncHandler(s Syncer) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		year, day, err := parseYearDay(req.Args)
		if err != nil {
			return req.Reply(ctx, err.Error()+"\nusage: /sync [year] [day]")
		}
		res := s.Run(ctx, reconcile.Request{Selection: leaderboard.Select(year, day)})
		return req.Reply(ctx, "sync "+res.RunID+"\n"+res.Summary())
	}
}

func linkHandler(dir Directory) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		name := strings.TrimSpace(strings.Join(req.Args, " "))
		if name == "" {
			return req.Reply(ctx, "usage: /link <leaderboard name>")
		}
		if err := dir.Link(ctx, name, req.FromID); err != nil {
			return err
		}
		return req.Reply(ctx, "Linked to "+name+". You will get an invite for each day you finish.")
	}
}

func whoamiHandler(dir Directory) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		name, ok, err := dir.NameOf(ctx, req.FromID)
		if err != nil {
			return err
		}
		if !ok {
			return req.Reply(ctx, "Not linked yet. Send /link <leaderboard name> in a private chat.")
		}
		return req.Reply(ctx, "Linked to "+name)
	}
}

func registerHandler(dir Directory) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		year, day, err := parseYearDay(req.Args)
		if err == nil && (year == 0 || day == 0) {
			err = errors.New("year and day are required")
		}
		if err != nil {
			return req.Reply(ctx, err.Error()+"\nusage: /register <year> <day>")
		}
		err = dir.RegisterChannel(ctx, year, day, req.Chat.ChatID)
		if errors.Is(err, identity.ErrChannelTaken) {
			return req.Reply(ctx, fmt.Sprintf("%d day %d already has a chat", year, day))
		}
		if err != nil {
			return err
		}
		return req.Reply(ctx, fmt.Sprintf("This chat now hosts %d day %d", year, day))
	}
}

func chatsHandler(dir Directory) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		year, day, err := parseYearDay(req.Args)
		if err == nil && (year == 0 || day != 0) {
			err = errors.New("exactly one year is required")
		}
		if err != nil {
			return req.Reply(ctx, err.Error()+"\nusage: /chats <year>")
		}
		days, err := dir.KnownDays(ctx, year)
		if err != nil {
			return err
		}
		if len(days) == 0 {
			return req.Reply(ctx, fmt.Sprintf("No chats registered for %d", year))
		}
		parts := make([]string, len(days))
		for i, d := range days {
			parts[i] = strconv.Itoa(d)
		}
		return req.Reply(ctx, fmt.Sprintf("%d days with a chat: %s", year, strings.Join(parts, ", ")))
	}
}
