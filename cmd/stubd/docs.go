package main

// General API documentation for swaggo. Build with -tags=swagger to serve it.
//
// @title           stubd API
// @version         1.0
// @description     LM Studio style model management and completion API backed by an in-memory engine.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
