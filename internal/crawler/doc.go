// Package crawler holds the domain types, collaborator interfaces and shared
// errors of the provider ingestion pipeline. Concrete sources, stores and the
// orchestrator live in sibling packages and depend on this one only.
package crawler
