//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore implementation of
// authcore.UserDirectory. It supports multi-tenancy through Datastore
// namespaces.
//
// # Datastore Kinds
//
//   - AuthUser: user accounts, keyed by numeric id
//   - AuthUnique: uniqueness markers for email, single-use token and provider
//     account, keyed by name and holding the owning user id
//
// A user and its markers are written in one transaction, which is how email
// and token uniqueness are enforced.
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	dir := gae.NewUserDirectory(client, "") // default namespace
package gae
