// Package sym defines canonical symbols for remit system markers.
// These symbols are stable across logs and CLI output.
package sym

// System infrastructure symbols.
const (
	Pulse      = "꩜" // batch passes, settlement, retry escalation
	PulseOpen  = "✿" // daemon startup, stale claim recovery
	PulseClose = "❀" // graceful shutdown
	DB         = "⊔" // database/storage layer
	Secret     = "⚿" // secret cache and key materialization
	Ledger     = "⇄" // ledger movers and receipts
	Event      = "◉" // outcome events
	AM         = "≡" // configuration
)

// registry maps each glyph to a short label for CLI legends.
var registry = []struct {
	glyph string
	label string
}{
	{Pulse, "pulse"},
	{PulseOpen, "startup"},
	{PulseClose, "shutdown"},
	{DB, "db"},
	{Secret, "secret"},
	{Ledger, "ledger"},
	{Event, "event"},
	{AM, "config"},
}

// Label returns the label for a glyph, or the empty string if unknown.
func Label(glyph string) string {
	for _, e := range registry {
		if e.glyph == glyph {
			return e.label
		}
	}
	return ""
}

// All returns every known glyph in display order.
func All() []string {
	out := make([]string, 0, len(registry))
	for _, e := range registry {
		out = append(out, e.glyph)
	}
	return out
}
