// Package runtimeconfig provides the dynamic model configuration pipeline
// for the chat gateway.
//
// A Refresher polls a Source on a fixed interval, resolves Key Vault
// references through a SecretResolver, validates the merged result with a
// Builder and publishes an immutable Snapshot to a SnapshotStore. Request
// handlers only ever read the store:
//
//	Source -> Refresher -> (SecretResolver) -> SnapshotStore -> chat handler
//
// A failed cycle never replaces or blanks the published snapshot. Before the
// first successful cycle, SnapshotStore.Current returns ErrNotYetConfigured
// unless the store was created WithBootstrap.
package runtimeconfig
