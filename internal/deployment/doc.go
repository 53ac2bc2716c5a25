// File: internal/deployment/doc.go
// Brief: Declarative collection plus concurrent deploy/undeploy of named resources.

// Package deployment collects named deployables and their references into a
// Deployment, deploys every deployable concurrently through its type plugin,
// and tears the resulting LiveDeployment down again.
//
// Ordering between deployables is never planned up front. A plugin that needs
// another deployable to exist first calls DeployContext.Depend (or Interface)
// from inside its Deploy, and the engine suspends it until that deployable's
// task settles.
package deployment
