package main

// General API documentation for swaggo. Run `swag init -g cmd/sketchd/main.go` to generate docs.
//
// @title           sketchd API
// @version         1.0
// @description     HTTP API for on-device model lifecycle and sketch-assistant inference.
//
// @contact.name   sketchd maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
