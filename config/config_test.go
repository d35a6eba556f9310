package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Meander-Cloud/go-tabtree/grouptab"
	"github.com/Meander-Cloud/go-tabtree/tabtree"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Group.BaseURI != grouptab.DefaultBaseURI {
		t.Errorf("Group.BaseURI = %q, want %q", cfg.Group.BaseURI, grouptab.DefaultBaseURI)
	}
	if cfg.Group.ReclaimDelay() != 100*time.Millisecond {
		t.Errorf("Group.ReclaimDelay() = %v, want 100ms", cfg.Group.ReclaimDelay())
	}
	if cfg.Group.TemporaryState() != grouptab.StatePassive {
		t.Errorf("Group.TemporaryState() = %v, want passive", cfg.Group.TemporaryState())
	}
	if cfg.Tree.Behavior() != tabtree.PromoteAllChildren {
		t.Errorf("Tree.Behavior() = %v, want promote_all_children", cfg.Tree.Behavior())
	}
	if cfg.Scheduler.EventChannelLength != 1024 {
		t.Errorf("Scheduler.EventChannelLength = %d, want 1024", cfg.Scheduler.EventChannelLength)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		t.Errorf("Default() should be valid, got %v", ValidationErrors(errs))
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if *cfg != *Default() {
		t.Errorf("Load() = %+v, want defaults %+v", *cfg, *Default())
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("TABTREE_GROUP_RECLAIM_DELAY_MS", "250")
	t.Setenv("TABTREE_TREE_CLOSE_PARENT_BEHAVIOR", "detach_all_children")
	t.Setenv("TABTREE_SCHEDULER_LOG_DEBUG", "true")

	cfg, err := Load(New())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Group.ReclaimDelay() != 250*time.Millisecond {
		t.Errorf("Group.ReclaimDelay() = %v, want 250ms", cfg.Group.ReclaimDelay())
	}
	if cfg.Tree.Behavior() != tabtree.DetachAllChildren {
		t.Errorf("Tree.Behavior() = %v, want detach_all_children", cfg.Tree.Behavior())
	}
	if !cfg.Scheduler.LogDebug {
		t.Error("Scheduler.LogDebug should be overridden to true")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tabtree.yaml")
	content := `group:
  label_format: "Group: %s"
  default_temporary_state: aggressive
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Group.LabelFormat != "Group: %s" {
		t.Errorf("Group.LabelFormat = %q", cfg.Group.LabelFormat)
	}
	if cfg.Group.TemporaryState() != grouptab.StateAggressive {
		t.Errorf("Group.TemporaryState() = %v, want aggressive", cfg.Group.TemporaryState())
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	// untouched keys keep their defaults
	if cfg.Group.ReclaimDelayMs != 100 {
		t.Errorf("Group.ReclaimDelayMs = %d, want 100", cfg.Group.ReclaimDelayMs)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile() should fail for a missing file")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	v := New()
	v.Set("group.reclaim_delay_ms", 0)
	v.Set("group.default_temporary_state", "sometimes")
	v.Set("logging.level", "loud")

	_, err := Load(v)
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("Load() error = %v, want ValidationErrors", err)
	}
	if len(verrs) != 3 {
		t.Fatalf("got %d validation errors, want 3: %v", len(verrs), verrs)
	}
	if !strings.HasPrefix(err.Error(), "3 validation errors:") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"empty base uri", func(c *Config) { c.Group.BaseURI = "" }, "group.base_uri"},
		{"base uri with query", func(c *Config) { c.Group.BaseURI = "ext+treestyletab:group?x=1" }, "group.base_uri"},
		{"label format with two titles", func(c *Config) { c.Group.LabelFormat = "%s / %s" }, "group.label_format"},
		{"negative delay", func(c *Config) { c.Group.ReclaimDelayMs = -1 }, "group.reclaim_delay_ms"},
		{"unknown behavior", func(c *Config) { c.Tree.CloseParentBehavior = "orphan" }, "tree.close_parent_behavior"},
		{"zero channel length", func(c *Config) { c.Scheduler.EventChannelLength = 0 }, "scheduler.event_channel_length"},
		{"oversized channel length", func(c *Config) { c.Scheduler.EventChannelLength = 70000 }, "scheduler.event_channel_length"},
		{"negative max size", func(c *Config) { c.Logging.MaxSizeMB = -1 }, "logging.max_size_mb"},
		{"negative backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("Validate() = %v, want one error", errs)
			}
			if errs[0].Field != tt.field {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.field)
			}
		})
	}
}
