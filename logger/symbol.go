package logger

import (
	"github.com/teranos/remit/sym"
	"go.uber.org/zap"
)

// Symbol-aware logger wrappers.
// The symbol goes in a structured field, not in the message, which keeps
// messages clean and logs queryable by symbol.
//
//	r.pulseLog = logger.AddPulseSymbol(baseLogger)

// AddPulseSymbol wraps a logger with the Pulse symbol (꩜)
func AddPulseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Pulse)
}

// AddPulseOpenSymbol wraps a logger with the PulseOpen symbol (✿)
func AddPulseOpenSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.PulseOpen)
}

// AddPulseCloseSymbol wraps a logger with the PulseClose symbol (❀)
func AddPulseCloseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.PulseClose)
}

// AddDBSymbol wraps a logger with the DB symbol (⊔)
func AddDBSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.DB)
}

// AddSecretSymbol wraps a logger with the Secret symbol (⚿)
func AddSecretSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Secret)
}

// AddLedgerSymbol wraps a logger with the Ledger symbol (⇄)
func AddLedgerSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Ledger)
}

// AddEventSymbol wraps a logger with the Event symbol (◉)
func AddEventSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Event)
}
