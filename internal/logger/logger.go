package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FieldService names the process in every entry.
const FieldService = "service"

// Options configures New.
type Options struct {
	Service string
	JSON    bool
	Debug   bool
	// Output is a zap sink path. Empty means stderr so that stdout stays free
	// for reports.
	Output string
}

func (o Options) level() zapcore.Level {
	if o.Debug {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

func (o Options) encoding() string {
	if o.JSON {
		return "json"
	}
	return "console"
}

func (o Options) output() string {
	if o.Output == "" {
		return "stderr"
	}
	return o.Output
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey: "step",

		LevelKey:    "level",
		EncodeLevel: zapcore.LowercaseLevelEncoder,

		TimeKey:    "time",
		EncodeTime: zapcore.RFC3339TimeEncoder,

		CallerKey:    "caller",
		EncodeCaller: zapcore.ShortCallerEncoder,
	}
}

// New builds the process logger.
func New(opts Options) (*zap.Logger, error) {
	cfg := zap.Config{
		Encoding:         opts.encoding(),
		Level:            zap.NewAtomicLevelAt(opts.level()),
		OutputPaths:      []string{opts.output()},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig:    encoderConfig(),
	}
	if opts.Service != "" {
		cfg.InitialFields = map[string]interface{}{FieldService: opts.Service}
	}

	return cfg.Build()
}
