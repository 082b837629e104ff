//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"github.com/indiko7777/callsanta/internal/app"
)

func InitializeApp() (*app.App, error) {
	panic(wire.Build(
		ConfigSet,
		ObservabilitySet,
		InfraSet,
		RepositorySet,
		SecuritySet,
		ServiceSet,
		HTTPSet,
		AppSet,
	))
}
