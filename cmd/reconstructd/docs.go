package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           reconstructd API
// @version         1.0
// @description     HTTP API for session-based photogrammetry pipeline orchestration.
//
// @contact.name   reconstructd maintainers
// @contact.url    https://github.com/your-org/reconstructd
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
