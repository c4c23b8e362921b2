package main

import "github.com/Norgate-AV/pbuild/cmd"

func main() {
	cmd.Execute()
}
