package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mailchat/mailchat/internal/models"
)

// Settings are persisted as a string key/value table so unknown keys from
// older or newer clients round-trip harmlessly. These are the recognized keys.
const (
	SettingPollIntervalMS      = "poll_interval_ms"
	SettingAutoSyncEnabled     = "auto_sync_enabled"
	SettingFilterNoReply       = "filter_noreply"
	SettingFilterInfoAddresses = "filter_info_addresses"
	SettingFilterPromotions    = "filter_promotions"
	SettingStripReplies        = "strip_replies"
	SettingMarkReadOnOpen      = "mark_read_on_open"
)

// EncodeSettings flattens a settings snapshot into the persisted form.
func EncodeSettings(s models.Settings) map[string]string {
	return map[string]string{
		SettingPollIntervalMS:      strconv.FormatInt(s.PollInterval.Milliseconds(), 10),
		SettingAutoSyncEnabled:     encodeBool(s.AutoSyncEnabled),
		SettingFilterNoReply:       encodeBool(s.FilterNoReply),
		SettingFilterInfoAddresses: encodeBool(s.FilterInfoAddresses),
		SettingFilterPromotions:    encodeBool(s.FilterPromotions),
		SettingStripReplies:        encodeBool(s.StripReplies),
		SettingMarkReadOnOpen:      encodeBool(s.MarkReadOnOpen),
	}
}

// DecodeSettings builds a snapshot from persisted values, falling back to
// defaults for missing keys. Invalid stored values fail with
// ErrInvalidSetting rather than being silently coerced.
func DecodeSettings(values map[string]string) (models.Settings, error) {
	s := models.DefaultSettings()

	if raw, ok := values[SettingPollIntervalMS]; ok {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return s, fmt.Errorf("%w: %s=%q", ErrInvalidSetting, SettingPollIntervalMS, raw)
		}
		interval := time.Duration(ms) * time.Millisecond
		if interval < models.MinPollInterval {
			return s, fmt.Errorf("%w: %s=%q is below the %v floor",
				ErrInvalidSetting, SettingPollIntervalMS, raw, models.MinPollInterval)
		}
		s.PollInterval = interval
	}

	var err error
	for key, dst := range map[string]*bool{
		SettingAutoSyncEnabled:     &s.AutoSyncEnabled,
		SettingFilterNoReply:       &s.FilterNoReply,
		SettingFilterInfoAddresses: &s.FilterInfoAddresses,
		SettingFilterPromotions:    &s.FilterPromotions,
		SettingStripReplies:        &s.StripReplies,
		SettingMarkReadOnOpen:      &s.MarkReadOnOpen,
	} {
		if raw, ok := values[key]; ok {
			if *dst, err = decodeBool(raw); err != nil {
				return s, fmt.Errorf("%w: %s=%q", ErrInvalidSetting, key, raw)
			}
		}
	}

	return s, nil
}

// ValidateSettingsUpdate checks an incoming partial update before it is
// persisted, so a bad value never replaces a working configuration.
func ValidateSettingsUpdate(updates map[string]string) error {
	recognized := map[string]struct{}{
		SettingPollIntervalMS:      {},
		SettingAutoSyncEnabled:     {},
		SettingFilterNoReply:       {},
		SettingFilterInfoAddresses: {},
		SettingFilterPromotions:    {},
		SettingStripReplies:        {},
		SettingMarkReadOnOpen:      {},
	}

	for key, value := range updates {
		if _, ok := recognized[key]; !ok {
			return fmt.Errorf("%w: unrecognized key %q", ErrInvalidSetting, key)
		}
		if key == SettingPollIntervalMS {
			ms, err := strconv.ParseInt(value, 10, 64)
			if err != nil || time.Duration(ms)*time.Millisecond < models.MinPollInterval {
				return fmt.Errorf("%w: %s=%q", ErrInvalidSetting, key, value)
			}
			continue
		}
		if _, err := decodeBool(value); err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidSetting, key, value)
		}
	}

	return nil
}

func encodeBool(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func decodeBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", raw)
}
