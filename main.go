package main

import "neurodb/cmd"

func main() {
	cmd.Execute()
}
