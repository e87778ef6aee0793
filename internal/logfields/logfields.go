package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyAsset      = "asset"
	KeyStage      = "stage"
	KeyStatus     = "status"
	KeyArch       = "arch"
	KeyPath       = "path"
	KeyBranch     = "branch"
	KeyCount      = "count"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr        { return slog.String(KeyRunID, id) }
func Asset(name string) slog.Attr      { return slog.String(KeyAsset, name) }
func Stage(s string) slog.Attr         { return slog.String(KeyStage, s) }
func Status(s string) slog.Attr        { return slog.String(KeyStatus, s) }
func Arch(a string) slog.Attr          { return slog.String(KeyArch, a) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func Branch(b string) slog.Attr        { return slog.String(KeyBranch, b) }
func Count(n int) slog.Attr            { return slog.Int(KeyCount, n) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
