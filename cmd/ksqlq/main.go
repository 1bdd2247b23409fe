package main

import "github.com/florinutz/ksqlq/cmd"

func main() {
	cmd.Execute()
}
