package main

import "github.com/oshokin/gameserver-deploy/cmd/gameserver-deploy/cmd"

func main() {
	cmd.Execute()
}
