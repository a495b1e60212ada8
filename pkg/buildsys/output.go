package buildsys

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ngld/sitebuild/pkg/sblog"
)

func log(ctx context.Context) *zerolog.Logger {
	return sblog.Log(ctx)
}
