// Package fakes provides test doubles for akv collaborators.
//
// Fakes are manually implemented (not generated) to provide precise control
// over test behavior.
//
// Usage:
//
//	gw := fakes.NewFakeGateway()
//	gw.AddJSON("https://test-vault.vault.azure.net/secrets/api-key/v2",
//	    `{"id":"https://test-vault.vault.azure.net/secrets/api-key/v2","value":"secret123",
//	      "attributes":{"enabled":true,"created":1000,"updated":1000,"recoveryLevel":"Purgeable"}}`)
//	repo, _ := repository.New("https://test-vault.vault.azure.net", gw)
//	// Test repository methods...
package fakes
