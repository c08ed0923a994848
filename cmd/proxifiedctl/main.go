// Command proxifiedctl inspects and edits the container proxy registry,
// either directly on the configured storage backend or through the MCP
// endpoint of a running server (-server, authenticated with -token or
// PROXIFIED_TOKEN).
//
// Usage:
//
//	proxifiedctl [-config file] [-tenant id] [-server url [-token t]] [-json] <command> [args]
//
// Commands:
//
//	parse <descriptor>              parse a proxy descriptor
//	list                            list all container mappings
//	get <container-id>              show one mapping
//	resolve <container-id>          show the proxy in effect, or direct
//	set [-init] <container-id> <descriptor>
//	                                map a container to a proxy
//	delete <container-id>           remove a mapping
//	probe [-timeout d] <container-id> <host:port>
//	                                connect to host:port through the container's proxy
//	token [-subject s] [-tier t] [-ttl d]
//	                                mint a bearer token for auth.type=jwt
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, "proxifiedctl:", err)
		}
		os.Exit(1)
	}
}
