package storage

import (
	"testing"
	"testing/fstest"
)

func TestChannelsEncoding(t *testing.T) {
	if got := EncodeChannels(nil); got != "" {
		t.Errorf("expected empty encoding, got %q", got)
	}
	ids, err := DecodeChannels(EncodeChannels([]int64{1, 175928847299117063}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ids) != 2 || ids[1] != 175928847299117063 {
		t.Errorf("unexpected ids %v", ids)
	}
	if _, err := DecodeChannels("1,x"); err == nil {
		t.Error("expected error for malformed list")
	}
}

func TestSplitMigration(t *testing.T) {
	up, down := SplitMigration("-- +migrate Up\nCREATE TABLE a(x);\n-- +migrate Down\nDROP TABLE a;\n")
	if up != "\nCREATE TABLE a(x);\n" {
		t.Errorf("unexpected up %q", up)
	}
	if down != "\nDROP TABLE a;\n" {
		t.Errorf("unexpected down %q", down)
	}

	up, down = SplitMigration("CREATE TABLE b(x);")
	if up != "CREATE TABLE b(x);" || down != "" {
		t.Errorf("expected unmarked file to be all up, got %q / %q", up, down)
	}
}

func TestReadMigrationsOrdersByName(t *testing.T) {
	fsys := fstest.MapFS{
		"002_b.sql":  &fstest.MapFile{Data: []byte("-- +migrate Up\nB;")},
		"001_a.sql":  &fstest.MapFile{Data: []byte("-- +migrate Up\nA;")},
		"README.txt": &fstest.MapFile{Data: []byte("ignored")},
	}
	list, err := ReadMigrations(fsys)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(list) != 2 || list[0].Name != "001_a.sql" || list[1].Name != "002_b.sql" {
		t.Errorf("unexpected migrations %+v", list)
	}
}
