package main

//go:generate swag init -g cmd/papertrade/main.go -o docs

// @title           Paper Trading API
// @version         0.1.0
// @description     Strategy signals, paper accounts, positions and performance.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
