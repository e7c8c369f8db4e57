package main

import "hotdns/cli"

func main() {
	cli.Execute()
}
