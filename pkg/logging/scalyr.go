package logging

import (
	"encoding/json"
	"time"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

var bufferPool = buffer.NewPool()

// ScalyrEncoder is a custom Zap encoder that outputs Scalyr-compatible JSON format.
// Fields added through With() land in the embedded map encoder and are
// flattened into every entry.
type ScalyrEncoder struct {
	*zapcore.MapObjectEncoder
	config zapcore.EncoderConfig
}

// NewScalyrEncoder creates a new Scalyr-compatible encoder
func NewScalyrEncoder(config zapcore.EncoderConfig) zapcore.Encoder {
	return &ScalyrEncoder{
		MapObjectEncoder: zapcore.NewMapObjectEncoder(),
		config:           config,
	}
}

// EncodeEntry encodes a log entry in Scalyr-compatible format
func (e *ScalyrEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	logObj := map[string]interface{}{
		"timestamp": entry.Time.Format(time.RFC3339Nano),
		"level":     entry.Level.String(),
		"message":   entry.Message,
	}
	if entry.LoggerName != "" {
		logObj["logger"] = entry.LoggerName
	}

	if entry.Caller.Defined {
		logObj["file"] = entry.Caller.File
		logObj["line"] = entry.Caller.Line
		logObj["function"] = entry.Caller.Function
	}

	if entry.Stack != "" {
		logObj["stack"] = entry.Stack
	}

	// With() fields first so call-site fields win on collisions
	for k, v := range e.Fields {
		logObj[k] = scalyrValue(v)
	}

	enc := zapcore.NewMapObjectEncoder()
	for _, field := range fields {
		field.AddTo(enc)
	}
	for k, v := range enc.Fields {
		logObj[k] = scalyrValue(v)
	}

	buf := bufferPool.Get()
	data, err := json.Marshal(logObj)
	if err != nil {
		buf.Free()
		return nil, err
	}
	buf.AppendBytes(data)
	buf.AppendString(zapcore.DefaultLineEnding)
	return buf, nil
}

func scalyrValue(v interface{}) interface{} {
	switch val := v.(type) {
	case time.Duration:
		return val.String()
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return val
	}
}

// Clone creates a copy of the encoder
func (e *ScalyrEncoder) Clone() zapcore.Encoder {
	clone := zapcore.NewMapObjectEncoder()
	for k, v := range e.Fields {
		clone.Fields[k] = v
	}
	return &ScalyrEncoder{
		MapObjectEncoder: clone,
		config:           e.config,
	}
}
