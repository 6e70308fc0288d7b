// Command rebac is the CLI and server binary for the ReBAC core: schema
// migration, namespace loading, one-off check/write/expand/explain calls,
// and the HTTP admin+check surface ("serve"). Grounded on
// dbtek-keto/internal/relationtuple/transact_server.go's httprouter+
// herodot HTTP surface and pthm-melange/cmd/melange's cobra command tree
// (the pack's other authz-tooling CLI).
package main

func main() {
	Execute()
}
