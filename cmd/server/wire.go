//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final binary.

package main

import (
	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"

	"github.com/iWorld-y/team_pulse/internal/conf"
	"github.com/iWorld-y/team_pulse/internal/data"
	"github.com/iWorld-y/team_pulse/internal/narrative"
	"github.com/iWorld-y/team_pulse/internal/server"
	"github.com/iWorld-y/team_pulse/internal/service"
	"github.com/iWorld-y/team_pulse/internal/usecase"
)

// initApp init kratos application.
func initApp(*conf.Server, *conf.Data, *conf.Narrative, *conf.Scheduler, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		narrative.ProviderSet,
		usecase.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		wire.Bind(new(usecase.NarrativeGenerator), new(*narrative.Generator)),
		newApp,
	))
}
