//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-backed authcore.UserDirectory. It supports any
// database GORM supports; OpenPostgres wires the pgx based Postgres driver.
//
// # Database Schema
//
// AutoMigrate creates a single auth_users table. email, single_use_token and
// (provider, provider_id) carry unique indexes; absent values are stored as
// NULL so they never collide.
//
// # Usage
//
//	db, _ := gormstore.OpenPostgres(dsn)
//	_ = gormstore.AutoMigrate(db)
//	dir := gormstore.NewUserDirectory(db)
package gorm
