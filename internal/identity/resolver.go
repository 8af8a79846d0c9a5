// Package identity maps leaderboard names to chat recipients and puzzle days
// to chats.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"aocbot/internal/storage"
	logx "aocbot/pkg/logx"
)

var (
	ErrChannelTaken = errors.New("identity: channel already registered for this day")
	ErrEmptyName    = errors.New("identity: name is empty")
)

type Resolver struct {
	st  storage.Store
	log logx.Logger
}

func New(st storage.Store, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{st: st, log: log}
}

// ResolveRecipients maps names to recipient ids. Unlinked names are omitted.
func (r *Resolver) ResolveRecipients(ctx context.Context, names []string) (map[string]int64, error) {
	keys := make([]storage.Key, 0, len(names))
	for _, n := range names {
		keys = append(keys, storage.NameKey(n))
	}
	items, err := storage.BatchGetAll(ctx, r.st, keys)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}
	out := make(map[string]int64, len(items))
	for k, it := range items {
		v, ok := it.Attr(storage.AttrRecipient)
		if !ok {
			continue
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			r.log.Warn("bad recipient record", logx.String("name", k.Sort), logx.Err(err))
			continue
		}
		out[k.Sort] = id
	}
	return out, nil
}

// ResolveChannels maps days of year to chat ids. Unregistered days are omitted.
func (r *Resolver) ResolveChannels(ctx context.Context, year int, days []int) (map[int]int64, error) {
	keys := make([]storage.Key, 0, len(days))
	byKey := make(map[storage.Key]int, len(days))
	for _, d := range days {
		k := storage.ChannelKey(year, d)
		keys = append(keys, k)
		byKey[k] = d
	}
	items, err := storage.BatchGetAll(ctx, r.st, keys)
	if err != nil {
		return nil, fmt.Errorf("resolve channels: %w", err)
	}
	out := make(map[int]int64, len(items))
	for k, it := range items {
		chat, ok := chatOf(it)
		if !ok {
			r.log.Warn("bad channel record", logx.String("key", k.Sort))
			continue
		}
		out[byKey[k]] = chat
	}
	return out, nil
}

func chatOf(it storage.Item) (int64, bool) {
	v, ok := it.Attr(storage.AttrChat)
	if !ok {
		return 0, false
	}
	chat, err := strconv.ParseInt(v, 10, 64)
	return chat, err == nil
}

// KnownDays lists the days of year that have a registered chat.
func (r *Resolver) KnownDays(ctx context.Context, year int) ([]int, error) {
	items, err := storage.QueryAll(ctx, r.st, storage.PartitionChannel, storage.ChannelYearPrefix(year))
	if err != nil {
		return nil, fmt.Errorf("known days: %w", err)
	}
	out := make([]int, 0, len(items))
	for _, it := range items {
		_, d, err := storage.ParseChannelSort(it.Key.Sort)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	sort.Ints(out)
	return out, nil
}

// KnownYears lists the years that have at least one registered chat.
func (r *Resolver) KnownYears(ctx context.Context) ([]int, error) {
	items, err := storage.QueryAll(ctx, r.st, storage.PartitionChannel, "")
	if err != nil {
		return nil, fmt.Errorf("known years: %w", err)
	}
	seen := map[int]bool{}
	var out []int
	for _, it := range items {
		y, _, err := storage.ParseChannelSort(it.Key.Sort)
		if err != nil || seen[y] {
			continue
		}
		seen[y] = true
		out = append(out, y)
	}
	sort.Ints(out)
	return out, nil
}

// RegisterChannel binds (year, day) to chat. A binding is never replaced;
// a second registration fails with ErrChannelTaken, even for the same chat.
func (r *Resolver) RegisterChannel(ctx context.Context, year, day int, chat int64) error {
	it := storage.Item{
		Key:   storage.ChannelKey(year, day),
		Attrs: map[string]string{storage.AttrChat: strconv.FormatInt(chat, 10)},
	}
	res, err := r.st.AttemptClaim(ctx, it, storage.Absent())
	if err != nil {
		return fmt.Errorf("register channel: %w", err)
	}
	if res == storage.Conflict {
		return ErrChannelTaken
	}
	r.log.Info("channel registered", logx.Int("year", year), logx.Int("day", day), logx.Int64("chat", chat))
	return nil
}

// Link pairs name with recipient and removes the stale halves of any previous
// pairing of either side. The writes are not atomic: a concurrent Link on the
// same name or recipient can leave the two directions disagreeing until the
// next Link.
func (r *Resolver) Link(ctx context.Context, name string, recipient int64) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	prevName, hadName, err := r.NameOf(ctx, recipient)
	if err != nil {
		return err
	}
	prevRecipient, err := r.ResolveRecipients(ctx, []string{name})
	if err != nil {
		return err
	}

	rid := strconv.FormatInt(recipient, 10)
	if err := r.set(ctx, storage.NameKey(name), storage.AttrRecipient, rid); err != nil {
		return fmt.Errorf("link name: %w", err)
	}
	if err := r.set(ctx, storage.RecipientKey(recipient), storage.AttrName, name); err != nil {
		return fmt.Errorf("link recipient: %w", err)
	}

	if hadName && prevName != name {
		if err := r.st.Delete(ctx, storage.NameKey(prevName)); err != nil {
			return fmt.Errorf("unlink old name: %w", err)
		}
	}
	if old, ok := prevRecipient[name]; ok && old != recipient {
		if err := r.st.Delete(ctx, storage.RecipientKey(old)); err != nil {
			return fmt.Errorf("unlink old recipient: %w", err)
		}
	}
	r.log.Info("identity linked", logx.String("name", name), logx.Int64("recipient", recipient))
	return nil
}

// set writes the single-attribute record unless it already holds value, so
// relinking an unchanged pair leaves the store untouched.
func (r *Resolver) set(ctx context.Context, key storage.Key, attr, value string) error {
	_, err := r.st.AttemptClaim(ctx, storage.Item{Key: key, Attrs: map[string]string{attr: value}}, storage.AttrAbsentOrNot(attr, value))
	return err
}

// NameOf returns the leaderboard name linked to recipient.
func (r *Resolver) NameOf(ctx context.Context, recipient int64) (string, bool, error) {
	it, ok, err := r.st.Get(ctx, storage.RecipientKey(recipient))
	if err != nil {
		return "", false, fmt.Errorf("name of: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	name, ok := it.Attr(storage.AttrName)
	return name, ok, nil
}
