package memory

import (
	"overseer/internal/config"
	"overseer/internal/logging"
)

// WindowManager classifies context-window usage into zones and decides
// when a refresh or checkpoint is due.
//
//	green  <= warning         no action
//	yellow (warning, refresh) log; prune harder on the next build
//	orange [refresh, critical) checkpoint + refresh before the next call
//	red    >= critical        refuse new calls until refreshed
//
// The refresh boundary is inclusive: at exactly the threshold the
// refresh policy triggers.
type WindowManager struct {
	window     int
	thresholds config.ThresholdsConfig
}

// NewWindowManager builds a manager for the given context window.
// Thresholds are fractions validated at config load (warning < refresh <
// critical).
func NewWindowManager(contextWindow int, thresholds config.ThresholdsConfig) *WindowManager {
	return &WindowManager{window: contextWindow, thresholds: thresholds}
}

// Window returns the context window in tokens.
func (m *WindowManager) Window() int { return m.window }

// Usage converts a token count into a usage fraction.
func (m *WindowManager) Usage(usedTokens int64) float64 {
	if m.window <= 0 {
		return 0
	}
	return float64(usedTokens) / float64(m.window)
}

// ZoneFor classifies a token count.
func (m *WindowManager) ZoneFor(usedTokens int64) Zone {
	usage := m.Usage(usedTokens)
	switch {
	case usage >= m.thresholds.Critical:
		return ZoneRed
	case usage >= m.thresholds.Refresh:
		return ZoneOrange
	case usage > m.thresholds.Warning:
		return ZoneYellow
	default:
		return ZoneGreen
	}
}

// ShouldRefresh reports whether a session refresh is due before the next
// outgoing call.
func (m *WindowManager) ShouldRefresh(usedTokens int64) bool {
	zone := m.ZoneFor(usedTokens)
	if zone >= ZoneOrange {
		logging.Memory("Window at %.1f%% (%s): refresh due", m.Usage(usedTokens)*100, zone)
		return true
	}
	if zone == ZoneYellow {
		logging.Memory("Window at %.1f%% (yellow)", m.Usage(usedTokens)*100)
	}
	return false
}

// Critical reports the red zone: no new calls until refreshed.
func (m *WindowManager) Critical(usedTokens int64) bool {
	return m.ZoneFor(usedTokens) == ZoneRed
}
