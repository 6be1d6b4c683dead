package main

import "github.com/huanfeng/adbkit/cmd"

func main() {
	cmd.Execute()
}
