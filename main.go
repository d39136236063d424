package main

import "github.com/Tiliavir/trivial-work-log/cmd"

func main() {
	cmd.Execute()
}
