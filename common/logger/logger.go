package logger

import (
	"context"
	"fmt"
	"sync"

	gmw "github.com/Laisky/gin-middlewares/v7"
	glog "github.com/Laisky/go-utils/v6/log"

	"github.com/Laisky/gemini-balance/common/config"
)

var (
	// Logger is the process-wide structured logger.
	Logger      glog.Logger
	initLogOnce sync.Once
)

func init() {
	initLogger()
}

// initLogger builds the go-utils console logger; level follows DEBUG.
func initLogger() {
	initLogOnce.Do(func() {
		var err error
		level := glog.LevelInfo
		if config.DebugEnabled {
			level = glog.LevelDebug
		}

		Logger, err = glog.NewConsoleWithName("gemini-balance", level)
		if err != nil {
			panic(fmt.Sprintf("failed to create logger: %+v", err))
		}
	})
}

// FromContext returns the request-scoped logger when the context carries one,
// otherwise the process logger.
func FromContext(ctx context.Context) glog.Logger {
	if ctx != nil {
		if ginCtx, ok := gmw.GetGinCtxFromStdCtx(ctx); ok {
			return gmw.GetLogger(ginCtx)
		}
	}
	return Logger
}
