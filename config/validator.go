package config

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/Meander-Cloud/go-tabtree/grouptab"
	"github.com/Meander-Cloud/go-tabtree/tabtree"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // config key, e.g. "group.reclaim_delay_ms"
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateGroup()...)
	errors = append(errors, c.validateTree()...)
	errors = append(errors, c.validateScheduler()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateGroup() []ValidationError {
	var errors []ValidationError

	if c.Group.BaseURI == "" || strings.ContainsAny(c.Group.BaseURI, "?#") {
		errors = append(errors, ValidationError{
			Field:   "group.base_uri",
			Value:   c.Group.BaseURI,
			Message: "must be non-empty and carry no query or fragment",
		})
	}

	if strings.Count(c.Group.LabelFormat, "%s") > 1 {
		errors = append(errors, ValidationError{
			Field:   "group.label_format",
			Value:   c.Group.LabelFormat,
			Message: "may reference the tab title (%s) at most once",
		})
	}

	if _, err := grouptab.ParseTemporaryState(c.Group.DefaultTemporaryState); err != nil {
		errors = append(errors, ValidationError{
			Field:   "group.default_temporary_state",
			Value:   c.Group.DefaultTemporaryState,
			Message: "must be one of: none, passive, aggressive",
		})
	}

	if c.Group.ReclaimDelayMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "group.reclaim_delay_ms",
			Value:   c.Group.ReclaimDelayMs,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateTree() []ValidationError {
	if _, err := tabtree.ParseCloseParentBehavior(c.Tree.CloseParentBehavior); err != nil {
		return []ValidationError{{
			Field:   "tree.close_parent_behavior",
			Value:   c.Tree.CloseParentBehavior,
			Message: "must be one of: promote_all_children, promote_first_child, detach_all_children",
		}}
	}
	return nil
}

func (c *Config) validateScheduler() []ValidationError {
	if c.Scheduler.EventChannelLength < 1 || c.Scheduler.EventChannelLength > math.MaxUint16 {
		return []ValidationError{{
			Field:   "scheduler.event_channel_length",
			Value:   c.Scheduler.EventChannelLength,
			Message: fmt.Sprintf("must be between 1 and %d", math.MaxUint16),
		}}
	}
	return nil
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative",
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
