package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/tanay1904/Drone/cmd/drone-gateway/app"
)

func main() {
	app.NewApp().Run()
}
