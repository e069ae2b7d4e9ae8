package logger

import (
	"bytes"
	"os"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	colorReset  = "\x1b[0m"
	colorBold   = "\x1b[1m"
	colorDim    = "\x1b[38;5;245m"
	colorYellow = "\x1b[38;5;214m"
	colorRed    = "\x1b[38;5;167m"
)

var bufferPool = buffer.NewPool()

// minimalEncoder renders one calm line per entry:
//
//	15:04:05  WARN  pulse.batch  Settlement failed  {"schedule_id":"…","attempt":2}
//
// Context added with With() and per-call fields are rendered by an inner JSON
// encoder that has every entry key blanked, so only the fields remain.
type minimalEncoder struct {
	zapcore.Encoder
	color bool
}

func newMinimalEncoder() *minimalEncoder {
	return &minimalEncoder{
		Encoder: zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			LineEnding:     "\n",
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
		}),
		color: os.Getenv("NO_COLOR") == "",
	}
}

func (enc *minimalEncoder) Clone() zapcore.Encoder {
	return &minimalEncoder{
		Encoder: enc.Encoder.Clone(),
		color:   enc.color,
	}
}

func (enc *minimalEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	final := bufferPool.Get()

	enc.paint(final, colorDim, ent.Time.Format("15:04:05"))

	// INFO is the quiet default; everything else is labelled
	if ent.Level != zapcore.InfoLevel {
		final.AppendString("  ")
		enc.paint(final, levelColor(ent.Level), ent.Level.CapitalString())
	}

	if ent.LoggerName != "" {
		final.AppendString("  ")
		enc.paint(final, colorDim, ent.LoggerName)
	}

	final.AppendString("  ")
	final.AppendString(ent.Message)

	rendered, err := enc.Encoder.EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		final.Free()
		return nil, err
	}
	body := bytes.TrimSpace(rendered.Bytes())
	if len(body) > 2 {
		final.AppendString("  ")
		enc.paint(final, colorDim, string(body))
	}
	rendered.Free()

	final.AppendString("\n")
	return final, nil
}

func (enc *minimalEncoder) paint(buf *buffer.Buffer, color, s string) {
	if !enc.color || color == "" {
		buf.AppendString(s)
		return
	}
	buf.AppendString(color)
	buf.AppendString(s)
	buf.AppendString(colorReset)
}

func levelColor(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return colorDim
	case zapcore.WarnLevel:
		return colorBold + colorYellow
	default:
		return colorBold + colorRed
	}
}
