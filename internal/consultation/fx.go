package consultation

import (
	"github.com/smallbiznis/consultly/internal/consultation/repository"
	"github.com/smallbiznis/consultly/internal/consultation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("consultation.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
