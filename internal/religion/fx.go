package religion

import (
	"github.com/smallbiznis/pantheon/internal/religion/service"
	"go.uber.org/fx"
)

var Module = fx.Module("religion.registry",
	fx.Provide(service.New),
)
