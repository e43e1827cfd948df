package server

//go:generate swag init -g swagger.go -o docs --outputTypes go

// @title ztguard API
// @version 0.1
// @description URL threat scoring, alert lifecycle and network event API.
// @contact.name ztguard Maintainers
// @contact.url https://github.com/raysh454/ztguard
// @BasePath /
