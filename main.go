package main

import "github.com/ccb-seg/ccb-launcher/cmd"

func main() {
	cmd.Execute()
}
