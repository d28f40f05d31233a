/*
Package main is an application package for the Findy Exchange coordinator. It
drives the asynchronous connection, credential and proof exchanges between
the tenant wallets of a Cloud API, and it follows the progress of every
exchange from the tenants' server-sent event streams instead of polling.

You can use the coordinator and related Go packages roughly for three
purposes:

1. As a CLI tool for running a single exchange between two tenants, or for
listening to a tenant's event stream.

2. As a scenario runner which runs the exchange flows of a YAML file
concurrently and reports the outcome of every exchange. The status server and
the gRPC health service show the running and archived exchanges meanwhile.

3. As a framework where the correlation store, the event subscriber and the
protocol driver are used from own Go code.

# Sub-packages

findy-exchange is structured to the following sub-packages:

	agent    includes the framework packages like psm, corr, subscriber, prot
	cmd      implements the cobra CLI
	cmds     includes the command objects which the CLI and tests use
	grpc     implements the gRPC health service
	server   implements the http status server
*/
package main
