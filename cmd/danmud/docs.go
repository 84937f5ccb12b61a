package main

// General API documentation for swaggo. The generated document lives in
// internal/docs and is served at /_danmud/swagger/index.html.
//
// @title           danmud admin API
// @version         1.0
// @description     Supervisor API for the danmu JS server: status, environment, variant and reload control.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /_danmud
//
// @schemes http
//
// @securityDefinitions.apikey AdminToken
// @in header
// @name Authorization
