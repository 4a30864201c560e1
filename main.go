package main

import "github.com/mensylisir/sshdeploy/cmd"

func main() {
	cmd.Execute()
}
