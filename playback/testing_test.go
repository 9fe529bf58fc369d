package playback

import "github.com/go-webdl/wrts/internal/wrtslog"
import "github.com/rs/zerolog"

func testLogger() zerolog.Logger { return wrtslog.Default() }
