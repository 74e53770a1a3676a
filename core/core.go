package core

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cjdbOs "github.com/HandsomeChen0407/cjdb/utils/os"
)

var RootContext context.Context
var RootContextCancel context.CancelFunc

func init() {
	_ = cjdbOs.LoadEnvFile(`./run.env`)
	_ = cjdbOs.LoadEnvFile(`./key.env`)
	_ = cjdbOs.LoadEnvFile(`./.env`)
	RootContext, RootContextCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
