package app

import (
	"github.com/vk/cutlet/internal/registry"
	"github.com/vk/cutlet/modules/echo"
	"github.com/vk/cutlet/modules/heartbeat"
	"github.com/vk/cutlet/modules/socketio"
	"github.com/vk/cutlet/modules/webhook"
)

// coreModules is the definitive list of all modules that are compiled into
// the cutlet binary.
var coreModules = []registry.Module{
	&heartbeat.Module{},
	&echo.Module{},
	&socketio.Module{},
	&webhook.Module{},
}
