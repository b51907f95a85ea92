package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chzyer/readline"

	"github.com/tinyland-inc/guildclaw/cmd/guildclaw/internal"
	"github.com/tinyland-inc/guildclaw/pkg/app"
	"github.com/tinyland-inc/guildclaw/pkg/channels"
	"github.com/tinyland-inc/guildclaw/pkg/logger"
	"github.com/tinyland-inc/guildclaw/pkg/storage"
	"github.com/tinyland-inc/guildclaw/pkg/storage/memory"
)

const (
	tenantID = int64(1)
	botID    = int64(1000)
)

// world seeds a small server: an owner with administrator rights, two plain
// members and a moderator role.
func world(out io.Writer) *channels.Local {
	var l *channels.Local
	l = channels.NewLocal(botID, channels.WithSendHook(func(channelID, userID int64, text string) {
		if userID != 0 {
			fmt.Fprintf(out, "[dm @%d] %s\n", userID, text)
			return
		}
		name := fmt.Sprint(channelID)
		if ch, err := l.Channel(context.Background(), channelID); err == nil {
			name = ch.Name
		}
		fmt.Fprintf(out, "[#%s] %s\n", name, text)
	}))
	l.PutRole(tenantID, channels.Role{ID: 50, Name: "Moderators", Position: 5})
	l.PutChannel(channels.Channel{ID: 10, TenantID: tenantID, Name: "general"})
	l.PutChannel(channels.Channel{ID: 11, TenantID: tenantID, Name: "offtopic"})
	l.PutChannel(channels.Channel{ID: 12, TenantID: tenantID, Name: "logs"})
	l.PutMember(channels.Member{ID: botID, TenantID: tenantID, Name: "guildclaw", Bot: true}, channels.PermAll)
	l.PutMember(channels.Member{ID: 2, TenantID: tenantID, Name: "owner", DisplayName: "Owner"}, channels.PermAdministrator)
	l.PutMember(channels.Member{ID: 3, TenantID: tenantID, Name: "mod", Roles: []int64{50}}, 0)
	l.PutMember(channels.Member{ID: 4, TenantID: tenantID, Name: "alice"}, 0)
	l.PutMember(channels.Member{ID: 5, TenantID: tenantID, Name: "bob"}, 0)
	return l
}

// session tracks who is typing where.
type session struct {
	local   *channels.Local
	author  channels.Member
	channel channels.Channel
	out     io.Writer
}

func newSession(l *channels.Local, out io.Writer) (*session, error) {
	ctx := context.Background()
	owner, err := l.Member(ctx, tenantID, 2)
	if err != nil {
		return nil, err
	}
	general, err := l.Channel(ctx, 10)
	if err != nil {
		return nil, err
	}
	return &session{local: l, author: owner, channel: general, out: out}, nil
}

func (s *session) prompt() string {
	return fmt.Sprintf("%s %s in #%s> ", internal.Logo, s.author.Name, s.channel.Name)
}

// exec handles one input line. It reports false when the session should end.
func (s *session) exec(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return false
	case "/as":
		if len(fields) != 2 {
			fmt.Fprintln(s.out, "usage: /as <member>")
			return true
		}
		if m, ok := s.findMember(ctx, fields[1]); ok {
			s.author = m
		} else {
			fmt.Fprintf(s.out, "no member %q\n", fields[1])
		}
		return true
	case "/in":
		if len(fields) != 2 {
			fmt.Fprintln(s.out, "usage: /in <channel>")
			return true
		}
		if ch, ok := s.findChannel(ctx, strings.TrimPrefix(fields[1], "#")); ok {
			s.channel = ch
		} else {
			fmt.Fprintf(s.out, "no channel %q\n", fields[1])
		}
		return true
	case "/who":
		s.who(ctx)
		return true
	}

	if _, err := s.local.Post(ctx, s.channel.ID, s.author.ID, line); err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
	}
	return true
}

func (s *session) findMember(ctx context.Context, name string) (channels.Member, bool) {
	members, err := s.local.Members(ctx, tenantID)
	if err != nil {
		return channels.Member{}, false
	}
	for _, m := range members {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	return channels.Member{}, false
}

func (s *session) findChannel(ctx context.Context, name string) (channels.Channel, bool) {
	chans, err := s.local.Channels(ctx, tenantID)
	if err != nil {
		return channels.Channel{}, false
	}
	for _, ch := range chans {
		if strings.EqualFold(ch.Name, name) {
			return ch, true
		}
	}
	return channels.Channel{}, false
}

func (s *session) who(ctx context.Context) {
	members, _ := s.local.Members(ctx, tenantID)
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	for _, m := range members {
		fmt.Fprintf(s.out, "  @%s <@%d>\n", m.Name, m.ID)
	}
	chans, _ := s.local.Channels(ctx, tenantID)
	for _, ch := range chans {
		fmt.Fprintf(s.out, "  #%s <#%d>\n", ch.Name, ch.ID)
	}
}

func consoleCmd(ctx context.Context, configPath string, persist, debug bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	internal.ConfigureLogging(cfg, debug)
	defer logger.Sync()

	var store storage.Store = memory.New()
	if persist {
		if store, err = internal.OpenStore(ctx, cfg); err != nil {
			return fmt.Errorf("error opening database: %w", err)
		}
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("error migrating database: %w", err)
	}

	opts, err := app.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	l := world(os.Stdout)
	a, err := app.New(l, store, opts)
	if err != nil {
		return err
	}
	if err := l.Start(ctx, a); err != nil {
		return err
	}
	defer func() {
		_ = a.Shutdown(context.Background())
		_ = l.Stop(context.Background())
	}()

	s, err := newSession(l, os.Stdout)
	if err != nil {
		return err
	}
	fmt.Printf("%s Console mode, type /who to list members (Ctrl+C to exit)\n\n", internal.Logo)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          s.prompt(),
		HistoryFile:     filepath.Join(os.TempDir(), ".guildclaw_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
	if err != nil {
		return fmt.Errorf("error initializing readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("Goodbye!")
				return nil
			}
			return fmt.Errorf("error reading input: %w", err)
		}
		if !s.exec(ctx, line) {
			fmt.Println("Goodbye!")
			return nil
		}
		rl.SetPrompt(s.prompt())
	}
}
