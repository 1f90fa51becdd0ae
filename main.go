package main

import "github.com/encodeous/strata/cmd"

func main() {
	cmd.Execute()
}
