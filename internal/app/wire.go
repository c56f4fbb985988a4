//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"

	"github.com/themeforge/server/internal/module/account"
	"github.com/themeforge/server/internal/module/auth"
	"github.com/themeforge/server/internal/module/billing"
	"github.com/themeforge/server/internal/module/payment"
	"github.com/themeforge/server/internal/module/usage"
	"github.com/themeforge/server/internal/shared/config"
)

// Handlers holds the HTTP handlers produced by the wire graph.
type Handlers struct {
	Auth    *auth.Handler
	Account *account.Handler
	Billing *billing.Handler
	Usage   *usage.Handler
	Payment *payment.Handler
	Webhook *payment.WebhookHandler
}

// InitializeHandlers builds the handler graph from configuration.
func InitializeHandlers(cfg *config.Config) (*Handlers, error) {
	wire.Build(
		AppSet,
		wire.Struct(new(Handlers), "*"),
	)
	return nil, nil
}
