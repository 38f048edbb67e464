package log_test

import (
	"errors"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/ssgreg/logf"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratelimit/log"
	"github.com/acronis/go-ratelimit/log/logtest"
)

func TestMaskingLogger(t *testing.T) {
	recorder := logtest.NewRecorder()
	maskingLog := log.NewMaskingLogger(recorder, log.NewMasker(log.DefaultMasks))

	checkRecordedLogAndReset := func(wantText string, wantLevel log.Level, wantFields ...log.Field) {
		entries := recorder.Entries()
		require.Len(t, entries, 1)
		require.Equal(t, wantText, entries[0].Text)
		require.Equal(t, wantLevel, entries[0].Level)
		require.ElementsMatch(t, wantFields, entries[0].Fields)
		recorder.Reset()
	}

	maskingLog.Error("client_secret=123", log.String("value", "client_secret=333"), log.Error(errors.New("client_secret=665")))
	checkRecordedLogAndReset("client_secret=***", log.LevelError, log.String("value", "client_secret=***"),
		log.Error(errors.New("client_secret=***")))

	maskingLog.Info("client_secret=123", log.String("value", "client_secret=346"), log.Error(errors.New("client_secret=668")))
	checkRecordedLogAndReset("client_secret=***", log.LevelInfo, log.String("value", "client_secret=***"),
		log.Error(errors.New("client_secret=***")))

	maskingLog.Warn("client_secret=123", log.String("value", "client_secret=332"), log.Error(errors.New("client_secret=965")))
	checkRecordedLogAndReset("client_secret=***", log.LevelWarn, log.String("value", "client_secret=***"),
		log.Error(errors.New("client_secret=***")))

	maskingLog.Debug("client_secret=123", log.String("value", "client_secret=333"), log.Error(errors.New("client_secret=665")))
	checkRecordedLogAndReset("client_secret=***", log.LevelDebug, log.String("value", "client_secret=***"),
		log.Error(errors.New("client_secret=***")))

	maskingLog.With(log.String("value", "client_secret=346"), log.NamedError("error_field", errors.New("client_secret=668"))).Info("client_secret=123")
	checkRecordedLogAndReset("client_secret=***", log.LevelInfo, log.String("value", "client_secret=***"),
		log.NamedError("error_field", errors.New("client_secret=***")))

	maskingLog.AtLevel(log.LevelInfo, func(l log.LogFunc) {
		l("client_secret=123", log.String("value", "client_secret=123"))
	})
	checkRecordedLogAndReset("client_secret=***", log.LevelInfo, log.String("value", "client_secret=***"))

	maskingLog.WithLevel(log.LevelInfo).Info("client_secret=123", log.String("value", "client_secret=***"))
	checkRecordedLogAndReset("client_secret=***", log.LevelInfo, log.String("value", "client_secret=***"))

	maskingLog.Error("abc", log.Error(fmtError{errors.New("client_secret=665")}))
	errS := fmt.Sprintf("%s", recorder.Entries()[0].Fields[0].Any)
	require.Contains(t, errS, "client_secret=***")
	require.Contains(t, errS, "password=***")
	recorder.Reset()

	maskingLog.Info("client_secret=123", log.Strings("value", []string{"client_secret=346"}))
	checkRecordedLogAndReset("client_secret=***", log.LevelInfo, log.Strings("value", []string{"client_secret=***"}))

	maskingLog.Info("client_secret=123", log.Bytes("value", []byte("client_secret=346")))
	checkRecordedLogAndReset("client_secret=***", log.LevelInfo, logf.ConstBytes("value", []byte("client_secret=***")))
}

type fmtError struct {
	err error
}

func (e fmtError) Error() string {
	return e.err.Error()
}

func (e fmtError) Format(f fmt.State, verb rune) {
	_, _ = io.WriteString(f, e.Error()+" password=123")
}

var logFile = "output.log"

func BenchmarkMaskingLogger(b *testing.B) {
	defaultLogger, closer := log.NewLogger(&log.Config{
		Output: log.OutputFile, Format: log.FormatJSON, Level: log.LevelInfo, AddCaller: true, File: log.FileOutputConfig{
			Path: logFile,
			Rotation: log.FileRotationConfig{
				MaxSize: 2 << 30,
			},
		},
	})
	defer func() {
		closer()
		_ = os.Remove(logFile)
	}()

	for _, test := range []struct {
		name   string
		logger log.FieldLogger
	}{
		{
			name:   "Logger (file)",
			logger: defaultLogger,
		},
		{
			name:   "MaskingLogger",
			logger: log.NewMaskingLogger(defaultLogger, log.NewMasker(log.DefaultMasks)),
		},
	} {
		b.Run(test.name, func(b *testing.B) {
			logger := test.logger.With(
				log.String("logger", "RateLimiter"),
				log.String("build", "1257"),
				log.String("source", "api-gateway"),
			)
			for i := 0; i < b.N; i++ {
				logger.Info("request rejected",
					log.String("key", "ip:181.58.39.81"),
					log.String("request_uri", "/api/gateway/authorize?api_key=c8f93f85ae6e492e"),
					log.Int64("retry_after_ms", 500),
				)
			}
		})
	}
}
