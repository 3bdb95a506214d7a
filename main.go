// main.go - tilecutter entry point
package main

import "github.com/valpere/tilecutter/cmd"

func main() {
	cmd.Execute()
}
