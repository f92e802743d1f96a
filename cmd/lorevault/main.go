// Command lorevault manages a worldbuilding vault from the shell.
package main

import "github.com/mesh-intelligence/lorevault/internal/cli"

func main() {
	cli.Execute()
}
