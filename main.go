package main

import "ptz-panel/cmd"

func main() {
	cmd.Execute()
}
