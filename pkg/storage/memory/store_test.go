package memory

import (
	"testing"

	"github.com/tinyland-inc/guildclaw/pkg/storage"
	"github.com/tinyland-inc/guildclaw/pkg/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(*testing.T) storage.Store { return New() })
}
