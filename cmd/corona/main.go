// Command corona builds the clash runtime config from profiles and chain
// items and manages the state it is built from.
package main

import "github.com/papapumpkin/corona/cmd"

func main() {
	cmd.Execute()
}
