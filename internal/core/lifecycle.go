package core

import (
	"context"

	"gopkg.in/yaml.v3"
)

// Configurable modules receive their raw YAML section right after New().
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner modules apply defaults, open resources and publish services.
// Provision runs for every module before any module starts.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator modules check their provisioned state. Validate must not have
// side effects.
type Validator interface {
	Validate() error
}

// Starter modules begin background work. Services published by other
// modules are resolved here, not in Provision.
type Starter interface {
	Start() error
}

// Stopper modules release resources. Stop is called in reverse start order.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Reloader modules accept a new configuration without a restart.
type Reloader interface {
	Reload(ctx *AppContext) error
}
