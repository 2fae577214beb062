package main

import "devsync-server/cmd"

func main() {
	cmd.Execute()
}
