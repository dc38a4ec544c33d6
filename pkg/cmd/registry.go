package cmd

import (
	"log/slog"

	"github.com/dukex/flowrun/pkg/executors/branch"
	"github.com/dukex/flowrun/pkg/executors/delay"
	"github.com/dukex/flowrun/pkg/executors/httprequest"
	logexec "github.com/dukex/flowrun/pkg/executors/log"
	"github.com/dukex/flowrun/pkg/executors/slack"
	"github.com/dukex/flowrun/pkg/executors/transform"
	"github.com/dukex/flowrun/pkg/registry"
)

// NewRegistry builds the executor registry with every built-in node type.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.Register(httprequest.NewFactory())
	reg.Register(transform.NewFactory())
	reg.Register(logexec.NewFactory())
	reg.Register(delay.NewFactory())
	reg.Register(branch.NewFactory())
	reg.Register(slack.NewFactory())

	return reg
}
