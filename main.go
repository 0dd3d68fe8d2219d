package main

import "github.com/BioHazard786/peercall/cmd"

func main() {
	cmd.Execute()
}
