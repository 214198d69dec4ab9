// Command authcored serves the authcore HTTP endpoints, federated login
// callbacks and an optional gRPC health endpoint guarded by session tokens.
package main

func main() {
	Execute()
}
