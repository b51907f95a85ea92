package devtools

import (
	"context"
	"testing"

	"github.com/tinyland-inc/guildclaw/pkg/bus"
	"github.com/tinyland-inc/guildclaw/pkg/channels"
	"github.com/tinyland-inc/guildclaw/pkg/command"
)

func TestIdOf(t *testing.T) {
	tests := []struct {
		content string
		want    string
		outcome command.Outcome
	}{
		{"!idof channel General", "channel general has id 20", command.Completed},
		{"!idof member alice", "member alice has id 2", command.Completed},
		{"!idof ROLE mods", "role mods has id 100", command.Completed},
		{"!idof role nobody", "role nobody not found", command.Rejected},
		{"!idof emoji smile", "known types: channel, member, role", command.Rejected},
		{"!idof channel", "idof type name", command.Rejected},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			l := channels.NewLocal(1)
			l.PutRole(10, channels.Role{ID: 100, Name: "Mods"})
			l.PutChannel(channels.Channel{ID: 20, TenantID: 10, Name: "general"})
			l.PutMember(channels.Member{ID: 1, TenantID: 10, Name: "bot", Bot: true}, channels.PermAll)
			l.PutMember(channels.Member{ID: 2, TenantID: 10, Name: "Alice"}, channels.PermAdministrator)

			reg := command.NewRegistry()
			if err := reg.Add(Commands()); err != nil {
				t.Fatalf("add: %v", err)
			}
			d := command.NewDispatcher(reg, l, bus.NewRegistry(context.Background()),
				command.WithDefaultReply(command.ReplyDirect), command.WithErrorDelay(0))

			msg, err := l.Post(context.Background(), 20, 2, tt.content)
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			if got := d.Handle(context.Background(), msg); got != tt.outcome {
				t.Errorf("outcome %v, want %v", got, tt.outcome)
			}
			sent := l.Sent(20)
			if len(sent) != 1 || sent[0] != tt.want {
				t.Errorf("sent %q, want %q", sent, tt.want)
			}
		})
	}
}
