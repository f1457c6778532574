package main

import "scrunch/cmd/scrunch/cmd"

func main() {
	cmd.Execute()
}
