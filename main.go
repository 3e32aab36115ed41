package main

import "techsheet/internal/app"

func main() {
	app.Execute()
}
