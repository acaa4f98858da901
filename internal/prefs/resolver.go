// Package prefs computes a recipient's effective delivery settings from
// their stored NotificationPreference. Every function is a pure read; the
// resolver never writes preference records, even for self-healing state like
// expired mutes.
package prefs

import (
	"time"

	"github.com/google/uuid"

	"github.com/tundeakins/ajopool/internal/db"
)

// EffectiveChannels returns the channels a reminder of the given event type
// may use for this recipient, in preference order.
//
// Resolution order: global kill switch, then the per-type override's enable
// flag, then the override's channel list (falling back to the global
// preferred list), finally filtered to channels that are individually
// enabled and, where required, verified.
func EffectiveChannels(p *db.NotificationPreference, eventType db.EventType) []db.Channel {
	if p == nil || !p.GlobalEnabled {
		return nil
	}

	candidates := p.PreferredChannels
	if override, ok := p.TypeOverrides[eventType]; ok {
		if !override.Enabled {
			return nil
		}
		if len(override.Channels) > 0 {
			candidates = override.Channels
		}
	}

	var out []db.Channel
	for _, ch := range candidates {
		if channelUsable(p, ch) {
			out = append(out, ch)
		}
	}
	return out
}

func channelUsable(p *db.NotificationPreference, ch db.Channel) bool {
	setting, ok := p.ChannelSettings[ch]
	if !ok || !setting.Enabled {
		return false
	}
	if requiresVerification(ch) && !setting.Verified {
		return false
	}
	return true
}

// SMS and push both point at an address the user has to prove ownership of
// (phone number, device registration) before we deliver to it.
func requiresVerification(ch db.Channel) bool {
	return ch == db.ChannelSMS || ch == db.ChannelPush
}

// IsPoolMuted reports whether the recipient has muted the pool. A temporary
// mute whose expiry has passed counts as unmuted; the stale override is left
// in place rather than written back.
func IsPoolMuted(p *db.NotificationPreference, poolID uuid.UUID, now time.Time) bool {
	if p == nil {
		return false
	}
	for _, m := range p.PoolMutes {
		if m.PoolID != poolID || !m.Muted {
			continue
		}
		if m.MutedUntil == nil || m.MutedUntil.After(now) {
			return true
		}
	}
	return false
}

// IsQuietHours reports whether now falls inside the recipient's quiet-hours
// window, evaluated in the window's configured timezone. A start hour above
// the end hour wraps midnight: [start, 24) ∪ [0, end). An unknown timezone
// falls back to UTC rather than failing the reminder.
func IsQuietHours(p *db.NotificationPreference, now time.Time) bool {
	if p == nil || !p.QuietHours.Enabled {
		return false
	}

	loc, err := time.LoadLocation(p.QuietHours.Timezone)
	if err != nil {
		loc = time.UTC
	}
	hour := now.In(loc).Hour()

	start := p.QuietHours.StartHour
	end := p.QuietHours.EndHour
	if start == end {
		return false
	}
	if start > end {
		return hour >= start || hour < end
	}
	return hour >= start && hour < end
}
