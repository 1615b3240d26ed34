// Command magnetar plans and materializes branch projects and expands
// change-request actions against a modeled project graph.
package main

import "github.com/papapumpkin/magnetar/cmd"

func main() {
	cmd.Execute()
}
