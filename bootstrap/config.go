package bootstrap

import (
	"fmt"
	"os"
	"strings"

	"logsentry/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger builds a colored console logger or a JSON logger at level.
// Unknown levels fall back to info.
func InitLogger(level, format string) (*zap.Logger, *zap.SugaredLogger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		lvl = zapcore.InfoLevel
	}

	var encoder zapcore.Encoder
	switch format {
	case "json":
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "", "console":
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", format)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), lvl)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads the configuration at path, applies the non-empty level
// and format overrides and builds the logger the result asks for
func InitConfig(path, level, format string) (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if level != "" {
		cfg.Logging.Level = level
	}
	if format != "" {
		cfg.Logging.Format = format
	}
	_, sugar, err := InitLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	if path == "" {
		sugar.Debug("No config path given, using config.yaml if present plus env vars")
	}
	sugar.Debugw("Config loaded",
		"rules_file", cfg.Rules.File,
		"feeds_file", cfg.Threat.FeedsFile,
		"workers", cfg.Engine.WorkerCount,
		"redis_enabled", cfg.Redis.Enabled)
	return cfg, sugar, nil
}
